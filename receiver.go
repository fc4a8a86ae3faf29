package modem

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// Mode selects where a body comes from or goes to. The caller always picks
// it explicitly; nothing is inferred from the arguments.
type Mode int

const (
	// ModeNone means no body.
	ModeNone Mode = iota

	// ModeMemory means an in-memory buffer.
	ModeMemory

	// ModeFile means a backing-store file.
	ModeFile
)

// String implements [fmt.Stringer].
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeMemory:
		return "memory"
	case ModeFile:
		return "file"
	default:
		return "invalid"
	}
}

// Sink is the destination of one [Modem.ReceiveUntil] transfer: either a
// bounded memory buffer or a backing-store file. A Sink must not be reused
// or shared between transfers.
type Sink struct {
	mode     Mode
	capacity int
	buf      []byte
	file     afero.File
}

// MemorySink returns a sink collecting at most capacity payload bytes in
// memory.
func MemorySink(capacity int) *Sink {
	return &Sink{mode: ModeMemory, capacity: capacity}
}

// FileSink returns a sink appending at most capacity payload bytes to f.
// Writes start at the current end of f.
func FileSink(f afero.File, capacity int) *Sink {
	return &Sink{mode: ModeFile, capacity: capacity, file: f}
}

// Mode returns the sink's variant.
func (s *Sink) Mode() Mode {
	return s.mode
}

// Bytes returns the payload collected by a memory sink.
func (s *Sink) Bytes() []byte {
	return s.buf
}

// sinkWriter is the per-transfer state behind a Sink.
type sinkWriter interface {
	// write stores one received byte.
	write(b byte) error

	// commit keeps the first payload bytes received and drops the rest.
	commit(payload int) error
}

func (m *Modem) openSink(op string, s *Sink) (sinkWriter, error) {
	if s == nil {
		return nil, newError(CodeInvalidMode, op, errors.New("nil sink"))
	}
	if s.capacity < 0 {
		return nil, newError(CodeInvalidArgument, op, errors.New("negative capacity"))
	}
	switch s.mode {
	case ModeMemory:
		s.buf = s.buf[:0]
		return &memoryWriter{sink: s}, nil
	case ModeFile:
		if s.file == nil {
			return nil, newError(CodeInvalidMode, op, errors.New("file sink without file"))
		}
		start, err := s.file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, newError(CodeStorage, op, err)
		}
		return &fileWriter{
			m:     m,
			op:    op,
			file:  s.file,
			page:  make([]byte, 0, max(m.cfg.PageSize, 1)),
			start: start,
		}, nil
	default:
		return nil, newError(CodeInvalidMode, op, nil)
	}
}

type memoryWriter struct {
	sink *Sink
}

func (w *memoryWriter) write(b byte) error {
	w.sink.buf = append(w.sink.buf, b)
	return nil
}

func (w *memoryWriter) commit(payload int) error {
	w.sink.buf = w.sink.buf[:payload]
	return nil
}

// fileWriter buffers output in pages and writes a page once it is full.
// Bytes of a page that has been written cannot be taken back, so a
// terminator straddling a page boundary is erased in place.
type fileWriter struct {
	m       *Modem
	op      string
	file    afero.File
	page    []byte
	flushed int
	start   int64
}

func (w *fileWriter) write(b byte) error {
	w.page = append(w.page, b)
	if len(w.page) == cap(w.page) {
		return w.flush()
	}
	return nil
}

func (w *fileWriter) flush() error {
	if len(w.page) == 0 {
		return nil
	}
	if _, err := w.file.Write(w.page); err != nil {
		return newError(CodeStorage, w.op, err)
	}
	w.flushed += len(w.page)
	w.page = w.page[:0]
	return nil
}

func (w *fileWriter) commit(payload int) error {
	if payload >= w.flushed {
		w.page = w.page[:payload-w.flushed]
		return w.flush()
	}

	// the page holds only terminator bytes; k more are already on storage
	w.page = w.page[:0]
	k := w.flushed - payload
	if _, err := w.file.Seek(-int64(k), io.SeekEnd); err != nil {
		return newError(CodeStorage, w.op, err)
	}
	if _, err := w.file.Write(make([]byte, k)); err != nil {
		return newError(CodeStorage, w.op, err)
	}
	w.m.metrics.erasures.Inc()
	w.m.logger.Debug("terminatorErased", slog.Int("bytes", k))
	if err := w.file.Truncate(w.start + int64(payload)); err != nil {
		return newError(CodeStorage, w.op, err)
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return newError(CodeStorage, w.op, err)
	}
	w.flushed = payload
	return nil
}

// ReceiveUntil copies incoming bytes into sink until end has been seen and
// returns the payload length. The terminator itself never remains in the
// sink.
//
// The sink's capacity bounds the payload: once more bytes arrived than
// capacity plus a possible terminator prefix, [ErrOverflow] is returned
// without waiting for end. [ErrTimeout] means end did not arrive within
// timeout; [ErrSequenceTooLong] means end is longer than [MaxSequenceLen];
// [ErrStorage] reports a failing file sink. On error the count of bytes
// received so far is returned.
func (m *Modem) ReceiveUntil(ctx context.Context, sink *Sink, end string, timeout time.Duration) (int, error) {
	const op = "receiveUntil"
	win, err := newMatchWindow(op, []byte(end))
	if err != nil {
		return 0, err
	}
	w, err := m.openSink(op, sink)
	if err != nil {
		return 0, err
	}

	t0 := m.cfg.TimeNow()
	var (
		one      [1]byte
		received int
		payload  = -1
	)
	err = m.wait(ctx, op, timeout, func() (bool, error) {
		for m.rx.drain(one[:]) == 1 {
			received++
			if err := w.write(one[0]); err != nil {
				return false, err
			}
			if win.push(one[0]) {
				payload = received - len(end)
				return true, w.commit(payload)
			}
			if received-(len(end)-1) > sink.capacity {
				return false, newError(CodeOverflow, op, nil)
			}
		}
		return false, nil
	})

	n := received
	if err == nil {
		n = payload
	}
	m.logger.Debug(
		"receiveDone",
		slog.String("end", end),
		slog.String("mode", sink.mode.String()),
		slog.Int("received", received),
		slog.Int("payload", n),
		slog.Any("err", err),
		slog.String("errClass", m.classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", m.cfg.TimeNow()),
	)
	return n, err
}
