package modem

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The window matches regardless of what precedes the target.
func TestMatchWindow(t *testing.T) {
	cases := []struct {
		input  string
		target string
		at     int // index of the byte completing the match, -1 for none
	}{
		{input: "SEND OK\r\n", target: "SEND OK\r\n", at: 8},
		{input: "xxSSEND OK\r\n", target: "SEND OK\r\n", at: 11},
		{input: "SEND O\r\n", target: "SEND OK\r\n", at: -1},
		{input: "aaab", target: "aab", at: 3},
		{input: "> ", target: ">", at: 0},
	}
	for _, tc := range cases {
		w, err := newMatchWindow("test", []byte(tc.target))
		require.NoError(t, err)
		at := -1
		for i := 0; i < len(tc.input); i++ {
			if w.push(tc.input[i]) {
				at = i
				break
			}
		}
		assert.Equal(t, tc.at, at, "%q in %q", tc.target, tc.input)
	}
}

// The target is found across arrivals.
func TestWaitForSequence(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed("\r\nCONN")
	f.dribble("ECT OK\r\n")

	err := m.WaitForSequence(context.Background(), "CONNECT OK\r\n", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, m.rx.available())
	assert.Equal(t, 0, m.rx.completedLines())
}

// A target split by a line terminator is still matched, and what follows it
// stays buffered.
func TestWaitForSequenceIgnoresLineFraming(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed("HTTP/1.1 200 OK\r\nServer: x\r\n\r\nbody")

	require.NoError(t, m.WaitForSequence(context.Background(), "\r\n\r\n", time.Second))
	assert.Equal(t, 4, m.rx.available())
	assert.Equal(t, 0, m.rx.completedLines())
}

// A missing target times out.
func TestWaitForSequenceTimeout(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed("CONNECT FAIL\r\n")

	err := m.WaitForSequence(context.Background(), "CONNECT OK\r\n", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

// Targets beyond the window fail at once, without consuming input.
func TestWaitForSequenceTooLong(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed("abc")

	err := m.WaitForSequence(context.Background(), strings.Repeat("x", MaxSequenceLen+1), time.Second)
	require.ErrorIs(t, err, ErrSequenceTooLong)
	assert.Equal(t, 3, m.rx.available())
	assert.Equal(t, 0, f.sleepsOf(m.cfg.Tick))

	// the longest allowed target is fine
	target := strings.Repeat("y", MaxSequenceLen)
	f.feed(target)
	require.NoError(t, m.WaitForSequence(context.Background(), target, time.Second))
}

// An empty target is a usage error.
func TestWaitForSequenceEmpty(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	require.ErrorIs(t, m.WaitForSequence(context.Background(), "", time.Second), ErrInvalidArgument)
}
