package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02

	KEY_ESC   = 1
	KEY_ENTER = 28
	BTN_0     = 0x100

	// Rotary encoder relative axis codes
	REL_DIAL  = 0x07
	REL_WHEEL = 0x08
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

const (
	defaultUpdateHz   = 60 // Animation frame rate (Hz)
	defaultHTTPListen = ":8080"
	defaultIPCSocket  = "/tmp/knobd.sock"

	// Rotary encoder defaults
	defaultDegreesPerDetent         = 15.0 // Angle moved per encoder detent
	defaultEncoderReleaseMS         = 400  // Synthetic release after this long without detents
	defaultRotaryVelocityWindowMS   = 200  // Time window for velocity detection (ms)
	defaultRotaryVelocityMultiplier = 2.0  // Multiplier for "fast spinning"
	defaultRotaryVelocityThreshold  = 3    // Steps in window to trigger velocity mode

	defaultRedisChannelPrefix = "knobd:commit:"

	// requestTimeout bounds a round-trip through the daemon loop.
	requestTimeout = time.Second
)
