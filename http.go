package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// Markers emitted by the modem during a TCP session.
const (
	markerConnectOK = "CONNECT OK\r\n"
	markerPrompt    = ">"
	markerSendOK    = "SEND OK\r\n"
	markerHeadEnd   = "\r\n\r\n"
	markerClosed    = "\r\nCLOSED\r\n"
)

// sendTerminator ends the payload of AT+CIPSEND (Ctrl-Z).
const sendTerminator = 0x1a

// HTTPRequest describes one HTTP-like exchange over a modem TCP session.
//
// The server must close the connection after responding (send
// "Connection: close"): the body ends where the modem reports CLOSED.
type HTTPRequest struct {
	// Host and Port identify the server.
	Host string
	Port uint16

	// Head is sent verbatim: request line, headers and the blank line.
	Head []byte

	// BodyMode selects the request body source: ModeNone, ModeMemory
	// (Body) or ModeFile (BodyReader).
	BodyMode   Mode
	Body       []byte
	BodyReader io.Reader

	// ResponseMode selects the response body destination: ModeNone
	// (head only), ModeMemory or ModeFile (ResponseFile).
	ResponseMode Mode
	ResponseFile afero.File

	// HeadCap bounds the response head, including the CR LF that ends
	// its last line.
	HeadCap int

	// BodyCap bounds the response body.
	BodyCap int
}

// HTTPResponse is the result of a successful [Modem.HTTP].
type HTTPResponse struct {
	// Head is the status line and headers, each ending in CR LF, without
	// the blank line.
	Head []byte

	// Body is the body when the request asked for ModeMemory.
	Body []byte

	// BodyLen is the body length for either mode.
	BodyLen int

	// SpanID identifies the exchange in the logs.
	SpanID string
}

func (req *HTTPRequest) validate() error {
	const op = "http"
	if req.Host == "" || req.Port == 0 {
		return newError(CodeInvalidArgument, op, errors.New("missing host or port"))
	}
	switch req.BodyMode {
	case ModeNone, ModeMemory:
	case ModeFile:
		if req.BodyReader == nil {
			return newError(CodeInvalidMode, op, errors.New("file body without reader"))
		}
	default:
		return newError(CodeInvalidMode, op, fmt.Errorf("request body mode %d", int(req.BodyMode)))
	}
	switch req.ResponseMode {
	case ModeNone, ModeMemory:
	case ModeFile:
		if req.ResponseFile == nil {
			return newError(CodeInvalidMode, op, errors.New("file response without file"))
		}
	default:
		return newError(CodeInvalidMode, op, fmt.Errorf("response body mode %d", int(req.ResponseMode)))
	}
	if req.HeadCap < len("\r\n") {
		return newError(CodeInvalidArgument, op, errors.New("head capacity too small"))
	}
	if req.BodyCap < 0 {
		return newError(CodeInvalidArgument, op, errors.New("negative body capacity"))
	}
	return nil
}

// HTTP performs one exchange: it opens a TCP session, sends the request,
// captures the response head and optionally the body, and closes the
// session. The close command runs on every return path once the request
// has been validated; the error returned is the first one encountered, never
// the close command's own.
func (m *Modem) HTTP(ctx context.Context, req *HTTPRequest) (resp *HTTPResponse, err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if req == nil {
		return nil, newError(CodeInvalidArgument, "http", errors.New("nil request"))
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	spanID := NewSpanID()
	t0 := m.cfg.TimeNow()
	m.logger.Info(
		"httpExchangeStart",
		slog.String("spanID", spanID),
		slog.String("host", req.Host),
		slog.Int("port", int(req.Port)),
		slog.String("requestMode", req.BodyMode.String()),
		slog.String("responseMode", req.ResponseMode.String()),
		slog.Time("t", t0),
	)

	prev := m.State()
	defer func() {
		cerr := m.closeSession(context.WithoutCancel(ctx))
		if m.State() == StateTCPSession {
			m.setState(prev)
		}
		m.metrics.exchanges.WithLabelValues(CodeOf(err).String()).Inc()
		m.logger.Info(
			"httpExchangeDone",
			slog.String("spanID", spanID),
			slog.Any("closeErr", cerr),
			slog.Any("err", err),
			slog.String("errClass", m.classify(err)),
			slog.Time("t0", t0),
			slog.Time("t", m.cfg.TimeNow()),
		)
	}()

	if err := m.openSession(ctx, req); err != nil {
		return nil, err
	}
	m.setState(StateTCPSession)

	if err := m.sendRequest(ctx, req); err != nil {
		return nil, err
	}
	return m.receiveResponse(ctx, req, spanID)
}

func (m *Modem) openSession(ctx context.Context, req *HTTPRequest) error {
	const op = "http"
	t := m.cfg.Timing
	text := fmt.Sprintf("AT+CIPSTART=\"TCP\",%q,\"%d\"", req.Host, req.Port)
	if err := m.expect(ctx, op, t.TCPStart.Command(text, "OK"), CodeTCPNoStart); err != nil {
		return err
	}
	err := m.WaitForSequence(ctx, markerConnectOK, t.Connect)
	return reclassify(err, CodeTimeout, CodeTCPNoConnect, op)
}

func (m *Modem) sendRequest(ctx context.Context, req *HTTPRequest) error {
	const op = "http"
	t := m.cfg.Timing
	if err := m.Flush(ctx); err != nil {
		return err
	}
	if err := m.write(op, []byte("AT+CIPSEND\r\n")); err != nil {
		return err
	}
	if err := m.WaitForSequence(ctx, markerPrompt, t.Prompt); err != nil {
		return reclassify(err, CodeTimeout, CodeTCPNoPrompt, op)
	}

	if err := m.write(op, req.Head); err != nil {
		return err
	}
	switch req.BodyMode {
	case ModeMemory:
		if len(req.Body) > 0 {
			if err := m.write(op, req.Body); err != nil {
				return err
			}
		}
	case ModeFile:
		if err := m.writeFrom(op, req.BodyReader); err != nil {
			return err
		}
	}
	if err := m.write(op, []byte{sendTerminator}); err != nil {
		return err
	}

	err := m.WaitForSequence(ctx, markerSendOK, t.SendConfirm)
	return reclassify(err, CodeTimeout, CodeTCPNoSendConfirm, op)
}

// maxEmptyReads bounds the consecutive (0, nil) reads writeFrom tolerates.
const maxEmptyReads = 100

// writeFrom streams r to the channel in small chunks, checking every write.
func (m *Modem) writeFrom(op string, r io.Reader) error {
	buf := make([]byte, 64)
	empty := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			empty = 0
			if werr := m.write(op, buf[:n]); werr != nil {
				return werr
			}
		} else if err == nil {
			empty++
			if empty >= maxEmptyReads {
				return newError(CodeStorage, op, io.ErrNoProgress)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return newError(CodeStorage, op, err)
		}
	}
}

func (m *Modem) receiveResponse(ctx context.Context, req *HTTPRequest, spanID string) (*HTTPResponse, error) {
	t := m.cfg.Timing

	// the first CR LF of the blank-line marker ends the last header line
	head := MemorySink(req.HeadCap - len("\r\n"))
	if _, err := m.ReceiveUntil(ctx, head, markerHeadEnd, t.Receive); err != nil {
		return nil, err
	}
	resp := &HTTPResponse{
		Head:   append(head.Bytes(), '\r', '\n'),
		SpanID: spanID,
	}

	var body *Sink
	switch req.ResponseMode {
	case ModeNone:
		return resp, nil
	case ModeMemory:
		body = MemorySink(req.BodyCap)
	case ModeFile:
		body = FileSink(req.ResponseFile, req.BodyCap)
	}
	n, err := m.ReceiveUntil(ctx, body, markerClosed, t.Receive)
	if err != nil {
		return nil, err
	}
	resp.BodyLen = n
	if body.Mode() == ModeMemory {
		resp.Body = body.Bytes()
	}
	return resp, nil
}

// closeSession issues AT+CIPCLOSE. After the server closed the connection
// the modem answers with an error, which is expected.
func (m *Modem) closeSession(ctx context.Context) error {
	return m.expect(ctx, "httpClose", m.cfg.Timing.TCPClose.Command("AT+CIPCLOSE", "CLOSE OK"), CodeUnresponsive)
}
