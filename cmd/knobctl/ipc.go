package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
)

// eventEnvelope mirrors the daemon's wire envelope.
type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// knobState is the subset of the daemon's knob snapshot that knobctl prints.
type knobState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	Committed struct {
		Value struct {
			Number float64 `json:"number"`
			StepID string  `json:"step_id,omitempty"`
		} `json:"value"`
		Revision uint64 `json:"revision"`
	} `json:"committed"`
	Enabled bool `json:"enabled"`
	Pending *struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	} `json:"pending,omitempty"`
	Phase string `json:"phase"`
}

// ipcResponse represents the daemon's response
type ipcResponse struct {
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Knob   *knobState  `json:"knob,omitempty"`
	Knobs  []knobState `json:"knobs,omitempty"`
}

const ipcTimeout = 3 * time.Second

// sendEvent writes one line-delimited JSON event and reads the daemon's answer.
func sendEvent(socketPath, typ string, data any) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, ipcTimeout)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	payload, err := json.Marshal(data)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	line, err := json.Marshal(eventEnvelope{Type: typ, Data: payload})
	if err != nil {
		return ipcResponse{}, fmt.Errorf("marshal envelope: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return ipcResponse{}, fmt.Errorf("send event: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func printResponse(w io.Writer, resp ipcResponse) {
	if resp.Knob != nil {
		printKnob(w, *resp.Knob)
	}
	for _, k := range resp.Knobs {
		printKnob(w, k)
	}
	if resp.Status == "ok" && resp.Knob == nil && len(resp.Knobs) == 0 {
		fmt.Fprintln(w, "ok")
	}
}

func printKnob(w io.Writer, k knobState) {
	value := fmt.Sprintf("%g", k.Committed.Value.Number)
	if k.Committed.Value.StepID != "" {
		value = k.Committed.Value.StepID
	}
	state := "enabled"
	if !k.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(w, "%-12s %-10s value=%s rev=%d %s phase=%s", k.ID, k.Mode, value, k.Committed.Revision, state, k.Phase)
	if k.Pending != nil {
		fmt.Fprintf(w, " pending=%s", k.Pending.ID)
	}
	fmt.Fprintln(w)
}
