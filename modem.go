package modem

import (
	"errors"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/runtimex"
	"github.com/luhtfiimanal/go-linux-modem/serial"
)

// Channel is the duplex byte channel a modem is attached to.
//
// [*serial.Port] is the production implementation.
type Channel interface {
	// Write blocks until data has been handed to the device.
	Write(data []byte) (int, error)

	// ReadBytesLoop invokes onByte for every received byte, in order,
	// until the channel is closed or fails. A failure is reported once
	// through onError.
	ReadBytesLoop(onByte func(byte), onError func(error))

	// Close releases the channel and ends ReadBytesLoop.
	Close() error
}

var _ Channel = &serial.Port{}

// Modem is the handle of one cellular modem.
//
// The channel read goroutine feeds [Modem.Receive]; everything else runs on
// the caller's goroutine. The low-level primitives (ReadLine, Flush,
// SendAndExpect, WaitForSequence, ReceiveUntil) must not be called
// concurrently with each other. The session operations (Status, HTTP, ...)
// serialise themselves on the handle.
type Modem struct {
	ch      Channel
	cfg     *Config
	rx      *ringBuffer
	metrics *Metrics
	logger  SLogger

	opMu  sync.Mutex
	state atomic.Int32
	ip    atomic.Pointer[netip.Addr]

	rxErrMu sync.Mutex
	rxErr   error

	loopDone chan struct{}
}

// New attaches a modem to ch and starts consuming its bytes. A nil cfg
// means [NewConfig].
func New(ch Channel, cfg *Config) *Modem {
	runtimex.Assert(ch != nil)
	if cfg == nil {
		cfg = NewConfig()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = runtimex.PanicOnError1(NewMetrics(nil, ""))
	}
	m := &Modem{
		ch:       ch,
		cfg:      cfg,
		rx:       newRingBuffer(cfg.BufferSize),
		metrics:  metrics,
		logger:   cfg.Logger,
		loopDone: make(chan struct{}),
	}
	go func() {
		defer close(m.loopDone)
		ch.ReadBytesLoop(m.Receive, m.fail)
	}()
	return m
}

// Open opens the serial device described by port and attaches a modem to
// it. An unsupported baud rate is reported as [ErrNoBaud], any other
// failure to open or configure the port as [ErrUART].
func Open(port serial.Config, cfg *Config) (*Modem, error) {
	p, err := serial.Open(port)
	if errors.Is(err, serial.ErrUnsupportedBaud) {
		return nil, newError(CodeNoBaud, "open", err)
	}
	if err != nil {
		return nil, newError(CodeUART, "open", err)
	}
	return New(p, cfg), nil
}

// Receive is the byte ingest callback. It appends b to the ring buffer and
// counts a completed line on '\n'.
func (m *Modem) Receive(b byte) {
	if m.rx.put(b) {
		m.metrics.ringDrops.Inc()
	}
	m.metrics.bytesReceived.Inc()
}

// fail records a channel failure; the next write or wait reports it.
func (m *Modem) fail(err error) {
	m.rxErrMu.Lock()
	m.rxErr = err
	m.rxErrMu.Unlock()
	m.logger.Info("channelFailed", slog.Any("err", err), slog.String("errClass", m.classify(err)))
}

func (m *Modem) channelErr() error {
	m.rxErrMu.Lock()
	defer m.rxErrMu.Unlock()
	return m.rxErr
}

// write hands data to the channel.
func (m *Modem) write(op string, data []byte) error {
	if err := m.channelErr(); err != nil {
		return newError(CodeTransport, op, err)
	}
	n, err := m.ch.Write(data)
	if err != nil {
		return newError(CodeTransport, op, err)
	}
	if n != len(data) {
		return newError(CodeTransport, op, errors.New("short write"))
	}
	return nil
}

// State returns the current session state.
func (m *Modem) State() State {
	return State(m.state.Load())
}

func (m *Modem) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	m.metrics.state.Set(float64(s))
	if old != s {
		m.logger.Info("sessionState", slog.String("from", old.String()), slog.String("to", s.String()))
	}
}

// Addr returns the IP address obtained by the last successful GPRSConnect.
// It is safe to call while a session operation is running.
func (m *Modem) Addr() netip.Addr {
	if ip := m.ip.Load(); ip != nil {
		return *ip
	}
	return netip.Addr{}
}

// Close closes the channel and waits for its read loop to end.
func (m *Modem) Close() error {
	err := m.ch.Close()
	<-m.loopDone
	return err
}

// classify returns the category of errors raised by the engine itself and
// defers to the configured classifier for foreign causes (syscalls, files).
func (m *Modem) classify(err error) string {
	if err == nil {
		return ""
	}
	if cause := foreignCause(err); cause != nil {
		return m.cfg.ErrClassifier.Classify(cause)
	}
	return CodeOf(err).Category().String()
}

func foreignCause(err error) error {
	for {
		e, ok := err.(*Error)
		if !ok {
			return err
		}
		if e.Err == nil {
			return nil
		}
		err = e.Err
	}
}
