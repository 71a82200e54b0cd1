package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timeAfterSeconds(n int) time.Time {
	return time.Now().Add(time.Duration(n) * time.Second)
}

func TestConnectionStateHappyPath(t *testing.T) {
	steps := []ConnectionState{StateAwaitingQR, StateAuthenticated, StateReady, StateDisconnected}

	current := StateInitializing
	for _, next := range steps {
		assert.True(t, current.CanTransition(next), "%s -> %s should be legal", current, next)
		current = next
	}
}

func TestConnectionStateTerminal(t *testing.T) {
	for _, terminal := range []ConnectionState{StateDisconnected, StateFailed} {
		assert.True(t, terminal.IsTerminal())
		for _, next := range []ConnectionState{
			StateInitializing, StateAwaitingQR, StateAuthenticated, StateReady, StateDisconnected, StateFailed,
		} {
			if next == terminal {
				continue
			}
			assert.False(t, terminal.CanTransition(next), "%s -> %s must be illegal", terminal, next)
		}
	}
}

func TestConnectionStateNoBackwardsSteps(t *testing.T) {
	assert.False(t, StateReady.CanTransition(StateAwaitingQR))
	assert.False(t, StateAuthenticated.CanTransition(StateAwaitingQR))
	assert.False(t, StateAwaitingQR.CanTransition(StateInitializing))
}

func TestConnectionStateCanSend(t *testing.T) {
	assert.True(t, StateReady.CanSend())
	for _, state := range []ConnectionState{
		StateInitializing, StateAwaitingQR, StateAuthenticated, StateDisconnected, StateFailed,
	} {
		assert.False(t, state.CanSend(), "%s must not accept sends", state)
	}
}

func TestSessionSetStateDropsIllegalTransitions(t *testing.T) {
	session := &Session{instanceID: "test-instance", state: StateReady}

	assert.False(t, session.setState(StateAwaitingQR))
	assert.Equal(t, StateReady, session.State())

	assert.True(t, session.setState(StateDisconnected))
	assert.Equal(t, StateDisconnected, session.State())

	// Terminal sessions stay terminal even if a late event arrives.
	assert.False(t, session.setState(StateReady))
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSessionFailWithRecordsError(t *testing.T) {
	session := &Session{instanceID: "test-instance", state: StateAwaitingQR}
	session.failWith(assert.AnError)

	assert.Equal(t, StateFailed, session.State())
	assert.Equal(t, assert.AnError.Error(), session.LastError())

	// A second failure on a terminal session must not overwrite the detail.
	session.lastError = "original"
	session.failWith(assert.AnError)
	assert.Equal(t, "original", session.LastError())
}

func TestSessionQRLifecycle(t *testing.T) {
	session := &Session{instanceID: "test-instance", state: StateInitializing}

	_, _, err := session.QR()
	assert.ErrorIs(t, err, ErrNoQRPending)

	session.setQR("data:image/png;base64,abcd", timeAfterSeconds(30))
	image, expiresIn, err := session.QR()
	assert.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,abcd", image)
	assert.Greater(t, expiresIn, 0)
	assert.Equal(t, StateAwaitingQR, session.State())

	// Expired challenges read as no challenge at all.
	session.setQR("data:image/png;base64,abcd", timeAfterSeconds(-1))
	_, _, err = session.QR()
	assert.ErrorIs(t, err, ErrNoQRPending)

	// Leaving the pairing step clears the challenge.
	session.setQR("data:image/png;base64,abcd", timeAfterSeconds(30))
	session.setState(StateAuthenticated)
	_, _, err = session.QR()
	assert.ErrorIs(t, err, ErrNoQRPending)
}

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"6281234567890", "6281234567890"},
		{"+62 812-3456-7890", "6281234567890"},
		{"6281234567890@s.whatsapp.net", "6281234567890"},
		{"+49 (151) 2345 678", "491512345678"},
		{"not-a-number", ""},
		{"", ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, NormalizeRecipient(test.input), "input %q", test.input)
	}
}
