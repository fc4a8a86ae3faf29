package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const closedMarker = "\r\nCLOSED\r\n"

// brokenFile is an afero.File whose writes fail.
type brokenFile struct {
	afero.File
}

func (brokenFile) Write(p []byte) (int, error) {
	return 0, errors.New("no space left on device")
}

func createFile(t *testing.T, fs afero.Fs, name string) afero.File {
	t.Helper()
	f, err := fs.Create(name)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

// The payload lands in memory without the terminator.
func TestReceiveUntilMemory(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed("HELLO" + closedMarker + "AT")

	sink := MemorySink(16)
	n, err := m.ReceiveUntil(context.Background(), sink, closedMarker, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "HELLO", string(sink.Bytes()))
	assert.Equal(t, 2, m.rx.available())
}

// A payload of exactly the capacity fits; one byte more overflows.
func TestReceiveUntilCapacity(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)

	f.feed("HELLO" + closedMarker)
	n, err := m.ReceiveUntil(context.Background(), MemorySink(5), closedMarker, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	f.feed("HELLO" + closedMarker)
	_, err = m.ReceiveUntil(context.Background(), MemorySink(4), closedMarker, time.Second)
	require.ErrorIs(t, err, ErrOverflow)
}

// Overflow is reported as soon as it is certain, without waiting for more
// input.
func TestReceiveUntilOverflowEarly(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed(strings.Repeat("x", 32))

	n, err := m.ReceiveUntil(context.Background(), MemorySink(8), "\r\n", time.Second)
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 10, n)
	assert.Equal(t, 0, f.sleepsOf(m.cfg.Tick))
}

// A terminator that never arrives times out.
func TestReceiveUntilTimeout(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	f.feed("HELLO\r\nCLO")

	n, err := m.ReceiveUntil(context.Background(), MemorySink(64), closedMarker, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 10, n)
}

// A file sink keeps the payload only, whether or not the terminator
// straddled a page boundary.
func TestReceiveUntilFile(t *testing.T) {
	const payload = "HELLO WORLD"
	for _, pageSize := range []int{4, 11, 512} {
		f := newFakeModem()
		m := newTestModem(t, f, func(c *Config) { c.PageSize = pageSize })
		fs := afero.NewMemMapFs()
		file := createFile(t, fs, "/body")
		f.feed(payload + closedMarker)

		n, err := m.ReceiveUntil(context.Background(), FileSink(file, 64), closedMarker, time.Second)
		require.NoError(t, err)
		assert.Equal(t, len(payload), n)

		data, err := afero.ReadFile(fs, "/body")
		require.NoError(t, err)
		assert.Equal(t, payload, string(data), "page size %d", pageSize)
	}
}

// Erasing flushed terminator bytes is counted.
func TestReceiveUntilFileErasure(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f, func(c *Config) { c.PageSize = 4 })
	file := createFile(t, afero.NewMemMapFs(), "/body")
	f.feed("HELLO WORLD" + closedMarker)

	_, err := m.ReceiveUntil(context.Background(), FileSink(file, 64), closedMarker, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, m.metrics.erasures))
}

// A file sink appends after existing content.
func TestReceiveUntilFileAppends(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f, func(c *Config) { c.PageSize = 4 })
	fs := afero.NewMemMapFs()
	file := createFile(t, fs, "/body")
	_, err := file.WriteString("head|")
	require.NoError(t, err)
	f.feed("BODY" + closedMarker)

	n, err := m.ReceiveUntil(context.Background(), FileSink(file, 64), closedMarker, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	data, err := afero.ReadFile(fs, "/body")
	require.NoError(t, err)
	assert.Equal(t, "head|BODY", string(data))
}

// A failing backing store surfaces as a storage error.
func TestReceiveUntilFileStorageError(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f, func(c *Config) { c.PageSize = 4 })
	file := brokenFile{createFile(t, afero.NewMemMapFs(), "/body")}
	f.feed("HELLO WORLD" + closedMarker)

	_, err := m.ReceiveUntil(context.Background(), FileSink(file, 64), closedMarker, time.Second)
	require.ErrorIs(t, err, ErrStorage)
}

// Every terminator length round-trips any payload up to the capacity,
// whether the terminator arrives in one read or one byte per tick, and
// wherever it falls relative to a page flush.
func TestReceiveUntilRoundTrip(t *testing.T) {
	const (
		terminators = "\r\nCLOSED!#$%&*+-/:;<"
		letters     = "abcdefghijklmnopqrstuvwxyz"
	)
	deliveries := map[string]func(f *fakeModem, s string){
		"fed":      (*fakeModem).feed,
		"dribbled": (*fakeModem).dribble,
	}
	for name, deliver := range deliveries {
		for _, mode := range []Mode{ModeMemory, ModeFile} {
			t.Run(name+"/"+mode.String(), func(t *testing.T) {
				for _, pageSize := range []int{1, 3, 8} {
					for endLen := 1; endLen < MaxSequenceLen; endLen++ {
						end := terminators[:endLen]
						for size := 0; size <= 2*pageSize+1; size++ {
							payload := strings.Repeat(letters, 2)[:size]
							msg := fmt.Sprintf("page %d, end %q, payload %d", pageSize, end, size)

							f := newFakeModem()
							m := newTestModem(t, f, func(c *Config) { c.PageSize = pageSize })
							fs := afero.NewMemMapFs()
							sink := MemorySink(size)
							if mode == ModeFile {
								sink = FileSink(createFile(t, fs, "/body"), size)
							}
							deliver(f, payload+end)

							n, err := m.ReceiveUntil(context.Background(), sink, end, time.Second)
							require.NoError(t, err, msg)
							assert.Equal(t, size, n, msg)

							got := sink.Bytes()
							if mode == ModeFile {
								got, err = afero.ReadFile(fs, "/body")
								require.NoError(t, err, msg)
							}
							assert.Equal(t, payload, string(got), msg)
							assert.NotContains(t, string(got), end, msg)
							assert.Equal(t, 0, m.rx.available(), msg)
						}
					}
				}
			})
		}
	}
}

// Misconfigured sinks and terminators are rejected before reading.
func TestReceiveUntilInvalid(t *testing.T) {
	f := newFakeModem()
	m := newTestModem(t, f)
	ctx := context.Background()

	_, err := m.ReceiveUntil(ctx, nil, closedMarker, time.Second)
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = m.ReceiveUntil(ctx, FileSink(nil, 8), closedMarker, time.Second)
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = m.ReceiveUntil(ctx, &Sink{}, closedMarker, time.Second)
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = m.ReceiveUntil(ctx, MemorySink(-1), closedMarker, time.Second)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = m.ReceiveUntil(ctx, MemorySink(8), strings.Repeat("z", MaxSequenceLen+1), time.Second)
	require.ErrorIs(t, err, ErrSequenceTooLong)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "none", ModeNone.String())
	assert.Equal(t, "memory", ModeMemory.String())
	assert.Equal(t, "file", ModeFile.String())
	assert.Equal(t, "invalid", Mode(42).String())
}
