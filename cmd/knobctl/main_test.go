package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon answers one IPC line with resp and records the request.
func fakeDaemon(t *testing.T, resp string) (string, <-chan eventEnvelope) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "knobd.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan eventEnvelope, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			return
		}
		var env eventEnvelope
		_ = json.Unmarshal(line, &env)
		got <- env
		_, _ = conn.Write([]byte(resp + "\n"))
	}()
	return sock, got
}

func TestSendEvent(t *testing.T) {
	sock, got := fakeDaemon(t, `{"status":"ok","knob":{"id":"thermostat","mode":"continuous","committed":{"value":{"number":22},"revision":4},"enabled":true,"phase":"idle"}}`)

	resp, err := sendEvent(sock, "set_value", map[string]any{"knob": "thermostat", "value": parseValue("22")})
	require.NoError(t, err)

	env := <-got
	assert.Equal(t, "set_value", env.Type)
	assert.JSONEq(t, `{"knob":"thermostat","value":22}`, string(env.Data))

	require.NotNil(t, resp.Knob)
	var buf bytes.Buffer
	printResponse(&buf, resp)
	assert.Contains(t, buf.String(), "value=22 rev=4 enabled phase=idle")
}

func TestRun_DaemonError(t *testing.T) {
	sock, _ := fakeDaemon(t, `{"status":"error","error":"knob: nothing pending"}`)
	socketPath = sock
	t.Cleanup(func() { socketPath = "/tmp/knobd.sock" })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"confirm", "kitchen"})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "nothing pending")
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 21.5, parseValue("21.5"))
	assert.Equal(t, "HIGH", parseValue("HIGH"))
}

func TestSendEvent_NoDaemon(t *testing.T) {
	_, err := sendEvent(filepath.Join(t.TempDir(), "missing.sock"), "confirm", map[string]any{"knob": "kitchen"})
	assert.ErrorContains(t, err, "connect to")
}
