//go:build linux

package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// readDevices reads from every encoder device with a single epoll goroutine.
//
// Instead of one goroutine blocking on read() per device, the kernel wakes us
// only when one of the devices has data.
func readDevices(files []*os.File, events chan<- deviceEvent, readErr chan<- error) {
	if len(files) == 0 {
		readErr <- fmt.Errorf("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		n, err := unix.EpollWait(epfd, epollEvents, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			// Any device error is fatal for the reader; the daemon keeps serving
			// the other transports.
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				readErr <- fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd)
				return
			}

			if _, err := f.Read(buf); err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				continue
			}

			events <- deviceEvent{Device: f.Name(), Event: ev}
		}
	}
}
