package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"
)

// Command is one AT command exchange: the text to send (without the CR LF
// terminator), the substring the response line must contain, and the
// retry discipline.
type Command struct {
	Text     string
	Expect   string
	Retries  int
	Timeout  time.Duration
	Interval time.Duration
}

// SendAndExpect sends cmd and reports whether the response line contains
// cmd.Expect.
//
// Each attempt flushes stale input, writes the command, discards the echo
// line and tests the next line. Attempts after the first are preceded by a
// cmd.Interval pause. Exhausting cmd.Retries attempts yields false with a nil
// error; a non-nil error means the channel failed or ctx is done.
func (m *Modem) SendAndExpect(ctx context.Context, cmd Command) (bool, error) {
	_, ok, err := m.run(ctx, cmd, func(line []byte) bool {
		return bytes.Contains(line, []byte(cmd.Expect))
	})
	return ok, err
}

// SendAndCapture sends cmd and returns the first response line after the
// echo, without its terminator, for the caller to parse. cmd.Expect is
// ignored. ok is false when no attempt produced a line.
func (m *Modem) SendAndCapture(ctx context.Context, cmd Command) (line string, ok bool, err error) {
	raw, ok, err := m.run(ctx, cmd, func(line []byte) bool {
		return len(line) > 0
	})
	return strings.TrimRight(string(raw), "\r\n"), ok, err
}

func (m *Modem) run(ctx context.Context, cmd Command, accept func([]byte) bool) ([]byte, bool, error) {
	t0 := m.cfg.TimeNow()
	m.logger.Info(
		"atCommandStart",
		slog.String("command", cmd.Text),
		slog.String("expect", cmd.Expect),
		slog.Time("t", t0),
	)

	attempts := max(cmd.Retries, 1)
	var (
		line []byte
		ok   bool
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			err = newError(CodeTimeout, cmd.Text, err)
			break
		}
		if attempt > 1 {
			m.metrics.retries.Inc()
			m.logger.Debug("atCommandRetry", slog.String("command", cmd.Text), slog.Int("attempt", attempt))
			if err = m.cfg.Sleep(ctx, cmd.Interval); err != nil {
				err = newError(CodeTimeout, cmd.Text, err)
				break
			}
		}
		line, err = m.attempt(ctx, cmd)
		if err != nil && !errors.Is(err, ErrTimeout) {
			break
		}
		err = nil
		if line != nil && accept(line) {
			ok = true
			break
		}
	}

	m.metrics.commandDone(ok)
	m.logger.Info(
		"atCommandDone",
		slog.String("command", cmd.Text),
		slog.String("response", strings.TrimRight(string(line), "\r\n")),
		slog.Bool("ok", ok),
		slog.Any("err", err),
		slog.String("errClass", m.classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", m.cfg.TimeNow()),
	)
	return line, ok, err
}

// attempt performs flush, write, echo discard and one response read. A nil
// line with a nil error cannot happen; a timeout is returned as ErrTimeout.
func (m *Modem) attempt(ctx context.Context, cmd Command) ([]byte, error) {
	if err := m.Flush(ctx); err != nil {
		return nil, err
	}
	if err := m.write(cmd.Text, []byte(cmd.Text+"\r\n")); err != nil {
		return nil, err
	}
	echo, err := m.ReadLine(ctx, cmd.Timeout)
	if err != nil && !errors.Is(err, ErrTimeout) {
		return nil, err
	}
	m.logger.Debug("atEcho", slog.String("line", strings.TrimRight(string(echo), "\r\n")))
	return m.ReadLine(ctx, cmd.Timeout)
}

// ParseRSSI extracts the received signal strength indicator and the bit
// error rate from a "+CSQ: <rssi>,<ber>" line. An rssi of 99 means the
// modem does not know and is reported as an error.
func ParseRSSI(line string) (rssi, ber int, err error) {
	if _, err := fmt.Sscanf(strings.TrimSpace(line), "+CSQ: %d,%d", &rssi, &ber); err != nil {
		return 0, 0, newError(CodeRSSI, "parseRSSI", err)
	}
	if rssi == 99 {
		return rssi, ber, newError(CodeRSSI, "parseRSSI", errors.New("signal unknown"))
	}
	return rssi, ber, nil
}

// ParseQuoted returns the text between the first and second double quote of
// line, e.g. the operator in `+COPS: 0,0,"vodafone UK"`.
func ParseQuoted(line string) (string, bool) {
	first := strings.IndexByte(line, '"')
	if first < 0 {
		return "", false
	}
	second := strings.IndexByte(line[first+1:], '"')
	if second < 0 {
		return "", false
	}
	return line[first+1 : first+1+second], true
}

// ParseIPv4 parses a dotted-quad address as returned by AT+CIFSR.
func ParseIPv4(line string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(line))
	if err != nil {
		return netip.Addr{}, newError(CodeIP, "parseIPv4", err)
	}
	if !addr.Is4() {
		return netip.Addr{}, newError(CodeIP, "parseIPv4", fmt.Errorf("%s is not an IPv4 address", addr))
	}
	return addr, nil
}
