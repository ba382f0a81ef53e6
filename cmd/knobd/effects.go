package main

import (
	"log/slog"

	"knobd/internal/knob"
)

// Sinks are the destinations for fleet-emitted commands. Any of them may be nil.
type Sinks struct {
	// WS receives every broadcast (coalesced by RunBroadcaster).
	WS chan<- Broadcast
	// Publish receives commits and external syncs for the Redis publisher.
	Publish chan<- Broadcast
	Metrics *Metrics
}

// runEffect executes a single fleet-emitted Command.
//
// Design rules:
// - The daemon goroutine must never block here: every channel send is non-blocking
//   and drops (with a log line) when the consumer is behind.
// - It never calls Fleet.Handle; sequencing belongs to the daemon loop.
func runEffect(cmd Command, sinks Sinks, logger *slog.Logger) {
	switch c := cmd.(type) {
	case CmdBroadcast:
		b := c.Broadcast
		sinks.Metrics.ObserveNotification(b)

		if sinks.WS != nil {
			select {
			case sinks.WS <- b:
			default:
				logger.Warn("ws broadcast queue full; dropping notification", "knob", b.Knob, "note", notificationType(b.Note))
			}
		}

		if sinks.Publish != nil && publishable(b.Note) {
			select {
			case sinks.Publish <- b:
			default:
				logger.Warn("publish queue full; dropping notification", "knob", b.Knob, "note", notificationType(b.Note))
			}
		}

	case CmdReply:
		if c.Reply == nil {
			logger.Warn("reply command with nil reply channel")
			return
		}
		// Reply channels are buffered by the requester; never block on them.
		select {
		case c.Reply <- c.Result:
		default:
			logger.Warn("reply channel not ready; dropping reply")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}

// publishable reports whether a notification changes a knob's committed value.
func publishable(n knob.Notification) bool {
	switch n.(type) {
	case knob.Commit, knob.Synced:
		return true
	default:
		return false
	}
}
