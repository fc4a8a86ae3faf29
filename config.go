package modem

import (
	"context"
	"time"

	"github.com/bassosimone/errclass"
)

// Policy is the retry discipline of one AT command: how many attempts, how
// long each attempt waits for a response line, and the pause between
// attempts.
type Policy struct {
	Retries  int
	Timeout  time.Duration
	Interval time.Duration
}

// Command builds the [Command] that sends text and expects expect under p.
func (p Policy) Command(text, expect string) Command {
	return Command{
		Text:     text,
		Expect:   expect,
		Retries:  p.Retries,
		Timeout:  p.Timeout,
		Interval: p.Interval,
	}
}

// Timing holds the retry policies and marker timeouts of every session step.
//
// The defaults returned by [DefaultTiming] are the values a SIM800 needs in
// the field. Tests shorten them.
type Timing struct {
	// Probe covers AT, AT+CFUN? and AT+CPIN?.
	Probe Policy

	// Register covers AT+CREG?.
	Register Policy

	// Query covers the data-carrying reads AT+CSQ and AT+COPS?.
	Query Policy

	// APN covers AT+CSTT, which is issued exactly once.
	APN Policy

	// Attach covers AT+CGATT=1 and AT+CGATT=0.
	Attach Policy

	// IPStack covers AT+CIICR, which can take tens of seconds.
	IPStack Policy

	// Address covers AT+CIFSR.
	Address Policy

	// Shutdown covers AT+CIPSHUT and AT+CPOWD=1.
	Shutdown Policy

	// TCPStart covers AT+CIPSTART.
	TCPStart Policy

	// TCPClose covers AT+CIPCLOSE.
	TCPClose Policy

	// Connect bounds the wait for "CONNECT OK".
	Connect time.Duration

	// Prompt bounds the wait for the ">" send prompt.
	Prompt time.Duration

	// SendConfirm bounds the wait for "SEND OK".
	SendConfirm time.Duration

	// Receive bounds each of the head and body transfers.
	Receive time.Duration
}

// DefaultTiming returns the field-tested SIM800 timing.
func DefaultTiming() Timing {
	return Timing{
		Probe:       Policy{Retries: 5, Timeout: 200 * time.Millisecond, Interval: time.Second},
		Register:    Policy{Retries: 5, Timeout: 200 * time.Millisecond, Interval: 2 * time.Second},
		Query:       Policy{Retries: 3, Timeout: 200 * time.Millisecond},
		APN:         Policy{Retries: 1, Timeout: 200 * time.Millisecond},
		Attach:      Policy{Retries: 3, Timeout: time.Second, Interval: 2 * time.Second},
		IPStack:     Policy{Retries: 2, Timeout: 20 * time.Second, Interval: 10 * time.Second},
		Address:     Policy{Retries: 3, Timeout: 300 * time.Millisecond},
		Shutdown:    Policy{Retries: 3, Timeout: time.Second, Interval: 2 * time.Second},
		TCPStart:    Policy{Retries: 3, Timeout: 500 * time.Millisecond, Interval: time.Second},
		TCPClose:    Policy{Retries: 1, Timeout: 500 * time.Millisecond},
		Connect:     10 * time.Second,
		Prompt:      5 * time.Second,
		SendConfirm: 10 * time.Second,
		Receive:     20 * time.Second,
	}
}

// Config holds the configuration of a [*Modem].
//
// All fields have sensible defaults set by [NewConfig]. Fields must not be
// mutated after the Config has been passed to [New] or [Open].
type Config struct {
	// BufferSize is the fixed capacity of the receive ring buffer.
	//
	// Set by [NewConfig] to 1024.
	BufferSize int

	// PageSize is the size of the page buffer used when spooling a
	// response body to a backing store.
	//
	// Set by [NewConfig] to 512.
	PageSize int

	// Tick is the polling granularity. Every timeout is converted into a
	// number of ticks.
	//
	// Set by [NewConfig] to 1ms.
	Tick time.Duration

	// Sleep blocks for d or until ctx is done. Every wait in the engine
	// goes through it.
	//
	// Set by [NewConfig] to a timer-based sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// Timing holds per-step retry policies.
	//
	// Set by [NewConfig] to [DefaultTiming].
	Timing Timing

	// Logger is the [SLogger] to use.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [errclass.New].
	ErrClassifier ErrClassifier

	// Metrics receives engine counters. When nil, [New] creates an
	// unregistered set.
	Metrics *Metrics

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		BufferSize:    1024,
		PageSize:      512,
		Tick:          time.Millisecond,
		Sleep:         sleepContext,
		Timing:        DefaultTiming(),
		Logger:        DefaultSLogger(),
		ErrClassifier: ErrClassifierFunc(errclass.New),
		TimeNow:       time.Now,
	}
}

// sleepContext is the default [Config.Sleep].
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ticks converts timeout into a number of polling attempts, at least one.
func (c *Config) ticks(timeout time.Duration) int {
	if c.Tick <= 0 || timeout <= 0 {
		return 1
	}
	n := int((timeout + c.Tick - 1) / c.Tick)
	if n < 1 {
		n = 1
	}
	return n
}
