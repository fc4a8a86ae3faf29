// Package serial provides a minimal, Linux-only serial port
// designed for unbuffered, byte-at-a-time communication with cellular modems
// and other embedded devices.
//
// Bytes are delivered to a callback as soon as the kernel has them, which is
// what an AT-command engine needs: unsolicited markers such as "CONNECT OK"
// or the "> " send prompt are not always newline-terminated, so line
// buffering at this layer would hide them.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Per-byte receive callback via ReadBytesLoop
//   - Blocking Write, safe to call while the read loop runs
//   - Self-pipe mechanism for killability
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	go port.ReadBytesLoop(
//	    func(b byte) {
//	        fmt.Printf("%c", b)
//	    },
//	    func(err error) {
//	        log.Println("Read error:", err)
//	    },
//	)
//
//	if _, err := port.Write([]byte("AT\r\n")); err != nil {
//	    log.Println("Write failed:", err)
//	}
//
//	// ... to stop reading, call port.Close() from another goroutine
package serial
