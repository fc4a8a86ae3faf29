package modem

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/slogstub"
)

// fakeModem is a [Channel] that plays a scripted modem.
//
// Replies to a write are delivered synchronously, before Write returns, so
// they are buffered by the time the engine starts waiting. Bytes queued with
// dribble are instead delivered one per engine tick, through the fake
// [Config.Sleep].
type fakeModem struct {
	mu       sync.Mutex
	onByte   func(byte)
	onError  func(error)
	script   map[string][]string
	writes   []string
	trickle  []byte
	sleeps   map[time.Duration]int
	writeErr error

	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ Channel = &fakeModem{}

func newFakeModem() *fakeModem {
	return &fakeModem{
		script: make(map[string][]string),
		sleeps: make(map[time.Duration]int),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// on scripts the replies to key, a written chunk without its CR LF. AT
// commands are echoed before the reply. Successive writes of key consume
// successive replies; the last one repeats.
func (f *fakeModem) on(key string, replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[key] = replies
}

func (f *fakeModem) Write(data []byte) (int, error) {
	<-f.ready
	f.mu.Lock()
	if f.writeErr != nil {
		err := f.writeErr
		f.mu.Unlock()
		return 0, err
	}
	chunk := string(data)
	f.writes = append(f.writes, chunk)
	key := strings.TrimSuffix(chunk, "\r\n")

	var reply string
	if strings.HasPrefix(chunk, "AT") {
		reply = chunk
	}
	if replies, ok := f.script[key]; ok && len(replies) > 0 {
		reply += replies[0]
		if len(replies) > 1 {
			f.script[key] = replies[1:]
		}
	}
	f.mu.Unlock()

	f.feed(reply)
	return len(data), nil
}

func (f *fakeModem) ReadBytesLoop(onByte func(byte), onError func(error)) {
	f.mu.Lock()
	f.onByte = onByte
	f.onError = onError
	f.mu.Unlock()
	close(f.ready)
	<-f.closed
}

func (f *fakeModem) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// feed delivers s immediately.
func (f *fakeModem) feed(s string) {
	<-f.ready
	for i := 0; i < len(s); i++ {
		f.onByte(s[i])
	}
}

// fail reports err as a channel failure.
func (f *fakeModem) fail(err error) {
	<-f.ready
	f.onError(err)
}

// dribble queues s for delivery at one byte per tick.
func (f *fakeModem) dribble(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trickle = append(f.trickle, s...)
}

func (f *fakeModem) sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps[d]++
	var (
		b   byte
		has bool
	)
	if len(f.trickle) > 0 {
		b, f.trickle, has = f.trickle[0], f.trickle[1:], true
	}
	f.mu.Unlock()
	if has {
		f.onByte(b)
	}
	return ctx.Err()
}

func (f *fakeModem) sleepsOf(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleeps[d]
}

// commands returns the AT commands written so far, without CR LF.
func (f *fakeModem) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range f.writes {
		if strings.HasPrefix(w, "AT") {
			out = append(out, strings.TrimSuffix(w, "\r\n"))
		}
	}
	return out
}

func (f *fakeModem) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "")
}

func (f *fakeModem) countCommand(cmd string) int {
	n := 0
	for _, c := range f.commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// newTestModem attaches a modem to f. Ticks cost nothing: the fake Sleep
// returns at once, so timeouts are pure tick budgets.
func newTestModem(t *testing.T, f *fakeModem, opts ...func(*Config)) *Modem {
	t.Helper()
	cfg := NewConfig()
	cfg.Sleep = f.sleep
	for _, opt := range opts {
		opt(cfg)
	}
	m := New(f, cfg)
	t.Cleanup(func() { m.Close() })
	<-f.ready
	return m
}

// scriptBringUp scripts a healthy, registered modem.
func scriptBringUp(f *fakeModem) {
	f.on("AT", "OK\r\n")
	f.on("AT+CFUN?", "+CFUN: 1\r\n")
	f.on("AT+CPIN?", "+CPIN: READY\r\n")
	f.on("AT+CREG?", "+CREG: 0,1\r\n")
}

// newCapturingLogger returns a logger that captures all log records into the
// returned slice.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordAttr returns the value of the named attribute of r.
func recordAttr(r slog.Record, name string) (slog.Value, bool) {
	var (
		value slog.Value
		found bool
	)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == name {
			value, found = a.Value, true
			return false
		}
		return true
	})
	return value, found
}
