package modem

import (
	"context"
	"log/slog"
	"time"
)

// wait polls ready once per tick until it reports true, the timeout's tick
// budget is spent, or ctx is done. ready runs before the first sleep, so a
// condition that already holds costs no tick.
func (m *Modem) wait(ctx context.Context, op string, timeout time.Duration, ready func() (bool, error)) error {
	remaining := m.cfg.ticks(timeout)
	for {
		done, err := ready()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := m.channelErr(); err != nil {
			return newError(CodeTransport, op, err)
		}
		if err := m.cfg.Sleep(ctx, m.cfg.Tick); err != nil {
			return newError(CodeTimeout, op, err)
		}
		remaining--
		if remaining <= 0 {
			return newError(CodeTimeout, op, nil)
		}
	}
}

// ReadLine blocks until a complete line is buffered or timeout elapses,
// then returns it including its "\r\n" terminator. It returns [ErrTimeout]
// when no line completed in time.
func (m *Modem) ReadLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	err := m.wait(ctx, "readLine", timeout, func() (bool, error) {
		return m.rx.completedLines() > 0, nil
	})
	if err != nil {
		return nil, err
	}
	line := m.rx.readLine(nil)
	m.logger.Debug("lineRead", slog.String("line", string(line)))
	return line, nil
}

// Flush discards everything buffered and resets the line counter, repeating
// until the buffer stayed empty across one tick. Afterwards the first line
// read is guaranteed to postdate the call.
//
// Flush only returns once input pauses for a full tick: a device that
// streams without pause keeps it looping until ctx is done.
func (m *Modem) Flush(ctx context.Context) error {
	for {
		if n := m.rx.reset(); n > 0 {
			m.logger.Debug("flushed", slog.Int("bytes", n))
		}
		if err := m.cfg.Sleep(ctx, m.cfg.Tick); err != nil {
			return newError(CodeTimeout, "flush", err)
		}
		if m.rx.available() == 0 {
			return nil
		}
	}
}
