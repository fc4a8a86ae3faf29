package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modem "github.com/luhtfiimanal/go-linux-modem"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MODEMCTL_CONFIG", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// Defaults apply when nothing else is set, except the required host.
func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("MODEMCTL_HTTP_HOST", "example.com")

	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyS0", c.Serial.Device)
	assert.Equal(t, 115200, c.Serial.Baud)
	assert.Equal(t, "internet", c.APN.Name)
	assert.Equal(t, 80, c.HTTP.Port)
	assert.Equal(t, "/", c.HTTP.Path)
	assert.Equal(t, 1024, c.HTTP.HeadCap)
	assert.Equal(t, time.Millisecond, c.Timing.Tick)
	assert.Equal(t, "info", c.Log.Level)
}

// A missing host is rejected.
func TestLoadRequiresHost(t *testing.T) {
	isolate(t)
	_, err := Load(nil)
	require.ErrorContains(t, err, "http.host")
}

// File values are overridden by env, and env by flags.
func TestLoadPrecedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
[serial]
device = "/dev/ttyUSB0"
baud = 57600

[apn]
name = "file.apn"

[http]
host = "file.example.com"
port = 8080
spool_dir = "/var/spool/modemctl"

[timing]
receive = "45s"
`)
	t.Setenv("MODEMCTL_CONFIG", path)
	t.Setenv("MODEMCTL_APN_NAME", "env.apn")
	t.Setenv("MODEMCTL_HTTP_HOST", "env.example.com")

	flags := pflag.NewFlagSet("modemctl", pflag.ContinueOnError)
	flags.String("host", "", "")
	flags.String("device", "", "")
	require.NoError(t, flags.Parse([]string{"--host", "flag.example.com"}))

	c, err := Load(flags)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", c.Serial.Device)
	assert.Equal(t, 57600, c.Serial.Baud)
	assert.Equal(t, "env.apn", c.APN.Name)
	assert.Equal(t, "flag.example.com", c.HTTP.Host)
	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, "/var/spool/modemctl", c.HTTP.SpoolDir)
	assert.Equal(t, 45*time.Second, c.Timing.Receive)
}

// An explicit config file must exist.
func TestLoadMissingExplicitFile(t *testing.T) {
	isolate(t)
	t.Setenv("MODEMCTL_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	_, err := Load(nil)
	require.ErrorContains(t, err, "read config")
}

func TestLoadInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("MODEMCTL_HTTP_HOST", "example.com")
	t.Setenv("MODEMCTL_HTTP_PORT", "70000")
	_, err := Load(nil)
	require.ErrorContains(t, err, "out of range")

	t.Setenv("MODEMCTL_HTTP_PORT", "80")
	t.Setenv("MODEMCTL_LOG_LEVEL", "trace")
	_, err = Load(nil)
	require.ErrorContains(t, err, "log.level")
}

// Only the timing fields that are set override the engine defaults.
func TestApplyTiming(t *testing.T) {
	c := Config{Timing: TimingConfig{Tick: 5 * time.Millisecond, Receive: time.Minute}}
	cfg := modem.NewConfig()
	c.ApplyTiming(cfg)

	assert.Equal(t, 5*time.Millisecond, cfg.Tick)
	assert.Equal(t, time.Minute, cfg.Timing.Receive)
	assert.Equal(t, modem.DefaultTiming().Connect, cfg.Timing.Connect)
}

func TestAPNCredentials(t *testing.T) {
	c := Config{APN: APNConfig{Name: "internet", User: "u", Password: "p"}}
	assert.Equal(t, modem.APN{Name: "internet", User: "u", Password: "p"}, c.APNCredentials())
}
