package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIPCLine(t *testing.T) {
	events, _ := startTestDaemon(t)
	ctx := context.Background()

	resp := handleIPCLine(ctx, []byte(`{"type":"request_snapshot","data":{"knob":"thermostat"}}`), events)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Knob)
	assert.Equal(t, 20.0, resp.Knob.Committed.Value.Number)

	resp = handleIPCLine(ctx, []byte(`{"type":"set_value","data":{"knob":"thermostat","value":23.26}}`), events)
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Knob)
	assert.Equal(t, 23.0, resp.Knob.Committed.Value.Number)

	resp = handleIPCLine(ctx, []byte(`{"type":"confirm","data":{"knob":"kitchen"}}`), events)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "nothing pending")
	require.NotNil(t, resp.Knob)

	resp = handleIPCLine(ctx, []byte(`{"type":"rotary_turn","data":{"knob":"bedroom","steps":1}}`), events)
	assert.Equal(t, IPCResponse{Status: "ok"}, resp)

	resp = handleIPCLine(ctx, []byte(`{"type":"warp"}`), events)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "parse event")
}

func TestHandleIPCLine_QueueFull(t *testing.T) {
	events := make(chan Event) // no daemon, no buffer
	resp := handleIPCLine(context.Background(), []byte(`{"type":"pointer_grant","data":{"knob":"kitchen"}}`), events)
	assert.Equal(t, IPCResponse{Status: "error", Error: "event queue full"}, resp)
}

func TestIPCServer_RoundTrip(t *testing.T) {
	events, _ := startTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := filepath.Join(t.TempDir(), "knobd.sock")
	errCh := make(chan error, 1)
	go func() { errCh <- runIPCServer(ctx, sock, events, slog.New(slog.DiscardHandler)) }()

	var conn net.Conn
	waitUntil(t, time.Second, func() bool {
		c, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, "IPC socket not ready")
	defer conn.Close()

	_, err := conn.Write([]byte(`{"type":"set_enabled","data":{"knob":"bedroom","enabled":false}}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)
	var resp IPCResponse
	require.NoError(t, json.Unmarshal(line, &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Knob)
	assert.False(t, resp.Knob.Enabled)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("IPC server did not stop")
	}
}
