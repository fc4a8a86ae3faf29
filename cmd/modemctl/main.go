// Command modemctl brings a SIM800 modem up, performs one HTTP exchange over
// GPRS and prints the response.
//
// Configuration comes from ~/.config/modemctl/config.toml (or the file named
// by MODEMCTL_CONFIG), MODEMCTL_* environment variables and flags.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	modem "github.com/luhtfiimanal/go-linux-modem"
	"github.com/luhtfiimanal/go-linux-modem/internal/config"
	"github.com/luhtfiimanal/go-linux-modem/serial"
)

func main() {
	flags := pflag.NewFlagSet("modemctl", pflag.ExitOnError)
	flags.String("device", "", "serial device of the modem")
	flags.Int("baud", 0, "serial baud rate")
	flags.String("apn", "", "access point name")
	flags.String("apn-user", "", "access point user")
	flags.String("apn-pass", "", "access point password")
	flags.String("host", "", "HTTP server host")
	flags.Int("port", 0, "HTTP server port")
	flags.String("path", "", "HTTP request path")
	flags.String("body-file", "", "POST this file instead of issuing a GET")
	flags.String("spool-dir", "", "spool the response body to a file in this directory")
	flags.String("log-level", "", "debug or info")
	powerdown := flags.Bool("powerdown", false, "power the modem off when done")
	dumpMetrics := flags.Bool("metrics", false, "print metrics to stderr when done")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Log.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	metrics, err := modem.NewMetrics(reg, cfg.Serial.Device)
	if err != nil {
		log.Fatalf("metrics: %v", err)
	}

	mcfg := modem.NewConfig()
	mcfg.Logger = logger
	mcfg.Metrics = metrics
	cfg.ApplyTiming(mcfg)

	m, err := modem.Open(serial.Config{Device: cfg.Serial.Device, BaudRate: cfg.Serial.Baud}, mcfg)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer m.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, m, cfg, afero.NewOsFs(), os.Stdout)
	if *powerdown {
		if perr := m.Powerdown(context.WithoutCancel(ctx)); perr != nil {
			logger.Info("powerdown failed", slog.Any("err", perr))
		}
	}
	if *dumpMetrics {
		writeMetrics(reg)
	}
	if err != nil {
		m.Close()
		log.Fatalf("modemctl: %v", err)
	}
}

func writeMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		log.Printf("gather metrics: %v", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(os.Stderr, mf); err != nil {
			log.Printf("write metrics: %v", err)
			return
		}
	}
}
