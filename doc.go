// Package modem drives a SIM800-class cellular modem over its AT-command
// serial stream and layers an HTTP-like exchange on top of the modem's TCP
// session commands.
//
// The serial stream is weakly framed: command echoes and status responses
// end in CR LF, but unsolicited markers such as "CONNECT OK" or the ">" send
// prompt may arrive anywhere and unterminated. The engine therefore reads
// it three ways:
//
//   - [Modem.ReadLine] takes one CR LF terminated line,
//   - [Modem.WaitForSequence] slides a window over raw bytes until a marker
//     appears, ignoring framing,
//   - [Modem.ReceiveUntil] copies raw bytes into a [Sink] until an end
//     marker appears, and removes the marker from what was copied.
//
// [Modem.SendAndExpect] and [Modem.SendAndCapture] build the usual AT
// command exchange from these: flush, write, discard echo, read response,
// retry.
//
// The session operations compose the exchanges:
//
//	m, err := modem.Open(serial.Config{Device: "/dev/ttyUSB0", BaudRate: 115200}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	if err := m.Init(ctx, modem.APN{Name: "internet"}); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := m.GPRSConnect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	resp, err := m.HTTP(ctx, &modem.HTTPRequest{
//	    Host:         "example.com",
//	    Port:         80,
//	    Head:         []byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"),
//	    ResponseMode: modem.ModeMemory,
//	    HeadCap:      512,
//	    BodyCap:      4096,
//	})
//
// Every error returned carries an [ErrorCode]; use [errors.Is] with the
// sentinels ([ErrTimeout], [ErrOverflow], ...) or [CodeOf].
//
// # Timing
//
// All waits poll the receive buffer once per [Config.Tick] and give up after
// timeout/Tick polls. A context bounds them as well. Retry counts and
// timeouts of every step live in [Timing].
//
// # Concurrency
//
// One modem handle serves one caller at a time. The serial read goroutine
// is the only producer of received bytes; the ring buffer and the line
// counter are shared with it under a mutex and an atomic counter.
// Separate handles share no state.
//
// # Observability
//
// Logging goes through [SLogger] (a [*slog.Logger] fits) and is disabled by
// default. Counters are exported through [Metrics].
package modem
