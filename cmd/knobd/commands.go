package main

import (
	"fmt"
	"time"

	"knobd/internal/knob"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// fanning a knob notification out to the sinks, or answering a requester.
type Command interface {
	commandMarker()
	String() string
}

// Broadcast is one controller notification tagged with the knob it came from.
type Broadcast struct {
	Knob string
	At   time.Time
	Note knob.Notification
}

// CmdBroadcast delivers a notification to the WS broadcaster, metrics and the publisher.
type CmdBroadcast struct {
	Broadcast Broadcast
}

func (CmdBroadcast) commandMarker() {}
func (c CmdBroadcast) String() string {
	return fmt.Sprintf("CmdBroadcast(knob=%s, note=%T)", c.Broadcast.Knob, c.Broadcast.Note)
}

// CmdReply answers a request-style event.
type CmdReply struct {
	Reply  chan<- Reply
	Result Reply
}

func (CmdReply) commandMarker() {}
func (c CmdReply) String() string {
	return fmt.Sprintf("CmdReply(err=%v)", c.Result.Err)
}
