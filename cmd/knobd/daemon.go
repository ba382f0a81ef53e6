package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The fleet performs no I/O; it applies events and returns commands.
//   - The daemon loop is the only place that executes side effects.
//   - Events are applied strictly one at a time (explicit queues, no re-entrancy).
//
// ============================================================================

// runDaemon is the main daemon loop that:
//   - Receives Events from multiple sources
//   - Emits Tick events on a fixed cadence
//   - Applies events to the fleet
//   - Executes the resulting commands
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	fleet *Fleet,
	sinks Sinks,
	updateHz int,
	logger *slog.Logger,
) {
	if fleet == nil {
		logger.Error("daemon fleet is nil")
		return
	}
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}

	updateInterval := time.Second / time.Duration(updateHz)
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	// Allow up to ~2 ticks worth of time to be integrated in one step so a
	// stalled process does not make springs jump.
	maxDt := 2 * updateInterval

	lastTick := time.Now()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			cmds := fleet.Handle(ev)
			cmdQueue = append(cmdQueue, cmds...)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]
			runEffect(cmd, sinks, logger)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			if typ := eventType(ev); typ != "" {
				sinks.Metrics.ObserveEvent(typ)
			}
			enqueueEvent(TimedEvent{Event: ev, At: time.Now()})
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			if dt > maxDt {
				dt = maxDt
			}
			enqueueEvent(Tick{Now: now, Dt: dt})
			flushEvents()
			flushCommands()
		}
	}
}

// request sends a reply-carrying event to the daemon and waits for its answer.
func request(ctx context.Context, events chan<- Event, ev replyable) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reply := make(chan Reply, 1)
	select {
	case events <- ev.withReply(reply):
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}
