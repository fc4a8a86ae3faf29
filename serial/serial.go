package serial

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrUnsupportedBaud is returned by Open when the requested baud rate has no
// termios equivalent.
var ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")

// ErrClosed is reported once the port has been closed.
var ErrClosed = errors.New("serial: port closed")

// Port provides low-latency, killable, byte-oriented access to a Linux serial port.
// Write may be called concurrently with a running ReadBytesLoop.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device   string
	BaudRate int // default 115200
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*Port, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, cfg.BaudRate)
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// VMIN=1, VTIME=0: a read returns as soon as one byte is available
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Turn back into blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set blocking: %w", err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	file := os.NewFile(uintptr(fd), cfg.Device)
	return &Port{
		fd:     fd,
		file:   file,
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

// Name returns the device path the port was opened on.
func (p *Port) Name() string {
	return p.config.Device
}

// Write writes the whole of data to the serial port, blocking until the
// kernel accepted it.
func (p *Port) Write(data []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.file.Write(data)
}

// ReadBytesLoop delivers every received byte, in order, to onByte until the
// port is closed or a read fails. A read failure is reported through onError
// and ends the loop; Close ends it silently.
func (p *Port) ReadBytesLoop(onByte func(byte), onError func(error)) {
	buf := make([]byte, 256)
	for {
		n, err := p.read(buf)
		if errors.Is(err, ErrClosed) {
			return
		}
		if err != nil {
			onError(err)
			return
		}
		for _, b := range buf[:n] {
			onByte(b)
		}
	}
}

// read waits with poll for data or a kill signal, then reads what is there.
func (p *Port) read(buf []byte) (int, error) {
	for {
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(pfd, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}
		select {
		case <-p.done:
			return 0, ErrClosed
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			// Drain pipe
			var b [1]byte
			unix.Read(p.pipeR, b[:])
			return 0, ErrClosed
		}
		if pfd[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 && pfd[0].Revents&unix.POLLIN == 0 {
			return 0, fmt.Errorf("serial: device hung up")
		}
		if pfd[0].Revents&unix.POLLIN != 0 {
			return p.file.Read(buf)
		}
	}
}

// Close closes the serial port and unblocks any ReadBytesLoop call.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// Wake up poll using self-pipe
		if p.pipeW > 0 {
			unix.Write(p.pipeW, []byte{1})
		}
		if p.file != nil {
			err = p.file.Close()
		}
		if p.pipeR > 0 {
			unix.Close(p.pipeR)
		}
		if p.pipeW > 0 {
			unix.Close(p.pipeW)
		}
	})
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	case 460800:
		return unix.B460800, true
	case 921600:
		return unix.B921600, true
	default:
		return 0, false
	}
}
