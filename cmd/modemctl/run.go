package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/afero"

	modem "github.com/luhtfiimanal/go-linux-modem"
	"github.com/luhtfiimanal/go-linux-modem/internal/config"
)

// run brings the link up, performs the exchange described by cfg and writes
// the response to out. The IP stack is shut down on every path once it has
// been brought up.
func run(ctx context.Context, m *modem.Modem, cfg config.Config, fs afero.Fs, out io.Writer) error {
	if err := m.Init(ctx, cfg.APNCredentials()); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	addr, err := m.GPRSConnect(ctx)
	if err != nil {
		m.GPRSDisconnect(context.WithoutCancel(ctx))
		return fmt.Errorf("gprs: %w", err)
	}
	defer m.GPRSDisconnect(context.WithoutCancel(ctx))
	fmt.Fprintf(out, "address: %s\n", addr)

	req, cleanup, err := newRequest(cfg, fs)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := m.HTTP(ctx, req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}

	fmt.Fprintf(out, "span: %s\n", resp.SpanID)
	out.Write(resp.Head)
	fmt.Fprintln(out)
	switch req.ResponseMode {
	case modem.ModeFile:
		fmt.Fprintf(out, "body: %d bytes in %s\n", resp.BodyLen, req.ResponseFile.Name())
	default:
		out.Write(resp.Body)
		fmt.Fprintln(out)
	}
	return nil
}

// newRequest builds the exchange: a GET, or a POST of cfg.HTTP.BodyFile,
// with the response body kept in memory or spooled under cfg.HTTP.SpoolDir.
// On success the caller must invoke cleanup once the exchange is over.
func newRequest(cfg config.Config, fs afero.Fs) (req *modem.HTTPRequest, cleanup func(), err error) {
	var closers []io.Closer
	cleanup = func() {
		for _, c := range closers {
			c.Close()
		}
	}

	req = &modem.HTTPRequest{
		Host:         cfg.HTTP.Host,
		Port:         uint16(cfg.HTTP.Port),
		ResponseMode: modem.ModeMemory,
		HeadCap:      cfg.HTTP.HeadCap,
		BodyCap:      cfg.HTTP.BodyCap,
	}

	contentLength := -1
	if cfg.HTTP.BodyFile != "" {
		f, err := fs.Open(cfg.HTTP.BodyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open body: %w", err)
		}
		closers = append(closers, f)
		info, err := f.Stat()
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("stat body: %w", err)
		}
		contentLength = int(info.Size())
		req.BodyMode = modem.ModeFile
		req.BodyReader = f
	}
	req.Head = requestHead(cfg.HTTP.Host, cfg.HTTP.Path, contentLength)

	if cfg.HTTP.SpoolDir != "" {
		f, err := afero.TempFile(fs, cfg.HTTP.SpoolDir, "modemctl-*.body")
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("spool: %w", err)
		}
		closers = append(closers, f)
		req.ResponseMode = modem.ModeFile
		req.ResponseFile = f
	}
	return req, cleanup, nil
}

// requestHead renders the request line and headers. A negative
// contentLength means a GET without body.
func requestHead(host, path string, contentLength int) []byte {
	if path == "" {
		path = "/"
	}
	method := "GET"
	if contentLength >= 0 {
		method = "POST"
	}
	head := method + " " + path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Connection: close\r\n"
	if contentLength >= 0 {
		head += "Content-Type: application/octet-stream\r\n" +
			"Content-Length: " + strconv.Itoa(contentLength) + "\r\n"
	}
	return []byte(head + "\r\n")
}
