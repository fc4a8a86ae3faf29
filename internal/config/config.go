package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	modem "github.com/luhtfiimanal/go-linux-modem"
)

// Config holds modemctl configuration.
type Config struct {
	Serial SerialConfig `mapstructure:"serial"`
	APN    APNConfig    `mapstructure:"apn"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Timing TimingConfig `mapstructure:"timing"`
	Log    LogConfig    `mapstructure:"log"`
}

// SerialConfig selects the modem's serial device.
type SerialConfig struct {
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
}

// APNConfig holds the access point credentials.
type APNConfig struct {
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// HTTPConfig describes the request to perform.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`

	// BodyFile, when set, is POSTed instead of issuing a GET.
	BodyFile string `mapstructure:"body_file"`

	// SpoolDir receives the response body; empty keeps it in memory.
	SpoolDir string `mapstructure:"spool_dir"`

	HeadCap int `mapstructure:"head_cap"`
	BodyCap int `mapstructure:"body_cap"`
}

// TimingConfig overrides selected marker timeouts. Zero keeps the default.
type TimingConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Connect     time.Duration `mapstructure:"connect"`
	SendConfirm time.Duration `mapstructure:"send_confirm"`
	Receive     time.Duration `mapstructure:"receive"`
}

// LogConfig selects the log level: debug or info.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"device":    "serial.device",
	"baud":      "serial.baud",
	"apn":       "apn.name",
	"apn-user":  "apn.user",
	"apn-pass":  "apn.password",
	"host":      "http.host",
	"port":      "http.port",
	"path":      "http.path",
	"body-file": "http.body_file",
	"spool-dir": "http.spool_dir",
	"log-level": "log.level",
}

// Load reads configuration from file, env and flags, in increasing order of
// precedence. Env var overrides use prefix MODEMCTL_. flags may be nil.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("serial.device", "/dev/ttyS0")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("apn.name", "internet")
	v.SetDefault("apn.user", "")
	v.SetDefault("apn.password", "")
	v.SetDefault("http.host", "")
	v.SetDefault("http.port", 80)
	v.SetDefault("http.path", "/")
	v.SetDefault("http.body_file", "")
	v.SetDefault("http.spool_dir", "")
	v.SetDefault("http.head_cap", 1024)
	v.SetDefault("http.body_cap", 64*1024)
	v.SetDefault("timing.tick", time.Millisecond)
	v.SetDefault("timing.connect", time.Duration(0))
	v.SetDefault("timing.send_confirm", time.Duration(0))
	v.SetDefault("timing.receive", time.Duration(0))
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("MODEMCTL_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "modemctl"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MODEMCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// a missing default file is fine, an explicit one must exist
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Serial.Device == "" {
		return errors.New("serial.device is required")
	}
	if c.HTTP.Host == "" {
		return errors.New("http.host is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.HTTP.HeadCap < 2 || c.HTTP.BodyCap < 0 {
		return errors.New("invalid http capacities")
	}
	switch c.Log.Level {
	case "debug", "info":
	default:
		return fmt.Errorf("log.level %q: want debug or info", c.Log.Level)
	}
	return nil
}

// APNCredentials returns the APN in engine form.
func (c Config) APNCredentials() modem.APN {
	return modem.APN{Name: c.APN.Name, User: c.APN.User, Password: c.APN.Password}
}

// ApplyTiming overrides the fields of cfg that are set in c.
func (c Config) ApplyTiming(cfg *modem.Config) {
	if c.Timing.Tick > 0 {
		cfg.Tick = c.Timing.Tick
	}
	if c.Timing.Connect > 0 {
		cfg.Timing.Connect = c.Timing.Connect
	}
	if c.Timing.SendConfirm > 0 {
		cfg.Timing.SendConfirm = c.Timing.SendConfirm
	}
	if c.Timing.Receive > 0 {
		cfg.Timing.Receive = c.Timing.Receive
	}
}
