package knob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationGate_HoldConfirm(t *testing.T) {
	g := newConfirmationGate(true)

	assert.Equal(t, DecisionHold, g.resolve("MEDIUM", "OFF"))
	assert.Equal(t, GateAwaitingConfirmation, g.State())
	p, ok := g.Pending()
	require.True(t, ok)
	assert.Equal(t, "MEDIUM", p.ProposedStepID)

	got, err := g.confirm()
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.Equal(t, GateCommitted, g.State())
	_, ok = g.Pending()
	assert.False(t, ok)

	g.settle()
	assert.Equal(t, GateIdle, g.State())

	_, err = g.confirm()
	assert.ErrorIs(t, err, ErrNothingPending)
}

func TestConfirmationGate_SameStep(t *testing.T) {
	for _, req := range []bool{true, false} {
		g := newConfirmationGate(req)
		assert.Equal(t, DecisionNone, g.resolve("OFF", "OFF"))
		assert.Equal(t, GateIdle, g.State())
	}
}

func TestConfirmationGate_Immediate(t *testing.T) {
	g := newConfirmationGate(false)

	assert.Equal(t, DecisionCommit, g.resolve("HIGH", "OFF"))
	_, ok := g.Pending()
	assert.False(t, ok)
	g.settle()
	assert.Equal(t, GateIdle, g.State())
}

func TestConfirmationGate_Discard(t *testing.T) {
	g := newConfirmationGate(true)

	_, ok := g.discard()
	assert.False(t, ok)

	g.resolve("SIM", "OFF")
	p, ok := g.discard()
	require.True(t, ok)
	assert.Equal(t, "SIM", p.ProposedStepID)
	assert.Equal(t, GateIdle, g.State())
}
