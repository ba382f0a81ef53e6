package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFrame(t *testing.T) {
	line, ok := formatFrame([]byte(`{"type":"commit","knob":"kitchen","data":{"value":{"number":0,"step_id":"HIGH"},"revision":3}}`), "")
	assert.True(t, ok)
	assert.Equal(t, "[COMMIT] kitchen = HIGH (rev 3)", line)

	line, ok = formatFrame([]byte(`{"type":"live_change","knob":"thermostat","data":{"value":22}}`), "")
	assert.True(t, ok)
	assert.Equal(t, "[LIVE] thermostat ~ 22", line)

	line, ok = formatFrame([]byte(`{"type":"pending_discarded","knob":"kitchen","data":{"step":{"id":"SIM"},"reason":"cancelled"}}`), "")
	assert.True(t, ok)
	assert.Equal(t, "[PENDING_DISCARDED] kitchen SIM (cancelled)", line)

	_, ok = formatFrame([]byte(`{"type":"commit","knob":"bedroom","data":{}}`), "kitchen")
	assert.False(t, ok)

	line, ok = formatFrame([]byte(`not json`), "")
	assert.True(t, ok)
	assert.Equal(t, "[TEXT] not json", line)
}
