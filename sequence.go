package modem

import (
	"context"
	"log/slog"
	"time"
)

// MaxSequenceLen bounds the length of a marker the matcher can look for.
const MaxSequenceLen = 20

// matchWindow holds the last len(target) bytes seen, as a circular buffer,
// and compares them against target after every byte.
type matchWindow struct {
	buf    [MaxSequenceLen]byte
	target []byte
	next   int // write position, also the oldest byte once full
	filled int
}

func newMatchWindow(op string, target []byte) (*matchWindow, error) {
	if len(target) == 0 {
		return nil, newError(CodeInvalidArgument, op, nil)
	}
	if len(target) > MaxSequenceLen {
		return nil, newError(CodeSequenceTooLong, op, nil)
	}
	return &matchWindow{target: target}, nil
}

// push appends b and reports whether the window now equals the target.
func (w *matchWindow) push(b byte) bool {
	n := len(w.target)
	w.buf[w.next] = b
	w.next = (w.next + 1) % n
	if w.filled < n {
		w.filled++
		if w.filled < n {
			return false
		}
	}
	for i := 0; i < n; i++ {
		if w.buf[(w.next+i)%n] != w.target[i] {
			return false
		}
	}
	return true
}

// WaitForSequence consumes input until target has been seen, regardless of
// line framing or how the bytes were split across arrivals. Bytes up to and
// including the target are discarded; what follows stays buffered.
//
// A target longer than [MaxSequenceLen] fails immediately with
// [ErrSequenceTooLong]. [ErrTimeout] means the target did not show up in time.
func (m *Modem) WaitForSequence(ctx context.Context, target string, timeout time.Duration) error {
	const op = "waitForSequence"
	w, err := newMatchWindow(op, []byte(target))
	if err != nil {
		return err
	}

	t0 := m.cfg.TimeNow()
	var one [1]byte
	consumed := 0
	err = m.wait(ctx, op, timeout, func() (bool, error) {
		for m.rx.drain(one[:]) == 1 {
			consumed++
			if w.push(one[0]) {
				return true, nil
			}
		}
		return false, nil
	})
	m.logger.Debug(
		"sequenceWaitDone",
		slog.String("target", target),
		slog.Int("consumed", consumed),
		slog.Any("err", err),
		slog.String("errClass", m.classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", m.cfg.TimeNow()),
	)
	return err
}
