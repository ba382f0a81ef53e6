//go:build !linux

package main

import "os"

// readDevices falls back to one blocking reader goroutine per device.
func readDevices(files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(f, events, readErr)
	}
}
