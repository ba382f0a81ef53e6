package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// The IPC server allows local clients (knobctl, scripts, the appliance
// firmware bridge) to send JSON events to the daemon via a Unix domain socket.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "event_name", "data": {...}}
//   - Server responds: {"status": "ok", ...} or {"status": "error", "error": "msg"}
//
// Request-style events (confirm, cancel_pending, set_value, set_enabled,
// request_snapshot) wait for the daemon's answer and return the knob state.
// ============================================================================

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string         `json:"status"`          // "ok" or "error"
	Error  string         `json:"error,omitempty"` // error message if status == "error"
	Knob   *KnobSnapshot  `json:"knob,omitempty"`
	Knobs  []KnobSnapshot `json:"knobs,omitempty"`
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Make socket accessible (consider security implications in production)
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection handles a single IPC connection
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		resp := handleIPCLine(ctx, []byte(line), events)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// handleIPCLine parses one request line and forwards it to the daemon.
func handleIPCLine(ctx context.Context, line []byte, events chan<- Event) IPCResponse {
	ev, err := UnmarshalEvent(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse event: %v", err)}
	}

	if r, ok := ev.(replyable); ok {
		reply, err := request(ctx, events, r)
		if err != nil {
			return IPCResponse{Status: "error", Error: fmt.Sprintf("daemon request: %v", err)}
		}
		resp := IPCResponse{Status: "ok", Knob: reply.Knob, Knobs: reply.Knobs}
		if reply.Err != nil {
			resp.Status = "error"
			resp.Error = reply.Err.Error()
		}
		return resp
	}

	select {
	case events <- ev:
		return IPCResponse{Status: "ok"}
	default:
		return IPCResponse{Status: "error", Error: "event queue full"}
	}
}
