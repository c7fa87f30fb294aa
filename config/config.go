// Package config loads the espwifi command configuration from a file, the
// environment and command line flags.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/embeddedgo/espwifi"
	"github.com/embeddedgo/espwifi/logging"
	"github.com/embeddedgo/espwifi/uart"
)

// EnvPrefix is the prefix of the environment variables, e.g.
// ESPWIFI_SERIAL_PORT overrides serial.port.
const EnvPrefix = "ESPWIFI"

// Config is the configuration of the espwifi command.
type Config struct {
	Serial uart.Config    `mapstructure:"serial"`
	Log    logging.Config `mapstructure:"log"`
	Modem  ModemConfig    `mapstructure:"modem"`
	AP     APConfig       `mapstructure:"ap"`
	HTTP   HTTPConfig     `mapstructure:"http"`
	Trace  TraceConfig    `mapstructure:"trace"`
}

// ModemConfig configures the espwifi.Device.
type ModemConfig struct {
	Name       string        `mapstructure:"name"`
	Reset      bool          `mapstructure:"reset"`
	Timeout    time.Duration `mapstructure:"timeout"`
	QueueSize  int           `mapstructure:"queue_size"`
	MinVersion string        `mapstructure:"min_version"`
	Grammar    string        `mapstructure:"grammar"` // YAML file, embedded grammar if empty
}

// APConfig configures the soft-AP.
type APConfig struct {
	Mode        string `mapstructure:"mode"`
	SSID        string `mapstructure:"ssid"`
	Password    string `mapstructure:"password"`
	Channel     int    `mapstructure:"channel"`
	Encryption  string `mapstructure:"encryption"`
	MaxStations int    `mapstructure:"max_stations"`
	Hidden      bool   `mapstructure:"hidden"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Port int    `mapstructure:"port"`
	Root string `mapstructure:"root"` // served directory, the built-in pages if empty
}

// TraceConfig enables recording of the UART traffic.
type TraceConfig struct {
	File string `mapstructure:"file"`
}

var defaults = map[string]any{
	"serial.port":         "",
	"serial.baud":         uart.DefaultBaud,
	"serial.backend":      uart.Termios,
	"serial.read_timeout": time.Duration(0),

	"log.level":            "info",
	"log.encoding":         "console",
	"log.file.filename":    "",
	"log.file.max_size":    10,
	"log.file.max_backups": 3,
	"log.file.max_age":     28,
	"log.file.compress":    false,

	"modem.name":        "esp0",
	"modem.reset":       true,
	"modem.timeout":     5 * time.Second,
	"modem.queue_size":  8,
	"modem.min_version": espwifi.DefaultMinVersion.String(),
	"modem.grammar":     "",

	"ap.mode":         "ap",
	"ap.ssid":         "LWESP_AccessPoint",
	"ap.password":     "ap_password",
	"ap.channel":      13,
	"ap.encryption":   espwifi.EncWPA2PSK.String(),
	"ap.max_stations": 5,
	"ap.hidden":       false,

	"http.port": 80,
	"http.root": "",

	"trace.file": "",
}

// Flags maps command line flag names to configuration keys.
var Flags = map[string]string{
	"port":      "serial.port",
	"baud":      "serial.baud",
	"backend":   "serial.backend",
	"log-level": "log.level",
	"trace":     "trace.file",
}

// Load reads the configuration. Values are taken, from the highest
// priority, from the flags of fs that were set, the environment, the file
// at path (if not empty) and the defaults.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	if path != "" {
		ext := filepath.Ext(path)
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(ext, "."))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if fs != nil {
		for name, key := range Flags {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Device returns the espwifi.Device configuration.
func (c *ModemConfig) Device(log *zap.Logger) (*espwifi.Config, error) {
	cfg := &espwifi.Config{
		Logger:         log,
		DefaultTimeout: c.Timeout,
		QueueSize:      c.QueueSize,
		Reset:          c.Reset,
	}
	if c.MinVersion != "" {
		v, ok := espwifi.ParseVersion(c.MinVersion)
		if !ok {
			return nil, fmt.Errorf("%w: modem.min_version %q", espwifi.ErrInvalidConfig, c.MinVersion)
		}
		cfg.MinVersion = v
	}
	if c.Grammar != "" {
		g, err := espwifi.LoadGrammar(c.Grammar)
		if err != nil {
			return nil, err
		}
		cfg.Grammar = g
	}
	return cfg, nil
}

// WiFi returns the WiFi mode and the validated soft-AP configuration.
func (c *APConfig) WiFi() (espwifi.Mode, espwifi.APConfig, error) {
	mode, err := espwifi.ParseMode(c.Mode)
	if err != nil {
		return 0, espwifi.APConfig{}, err
	}
	enc, err := espwifi.ParseEncryption(c.Encryption)
	if err != nil {
		return 0, espwifi.APConfig{}, err
	}
	ap := espwifi.APConfig{
		SSID:        c.SSID,
		Password:    c.Password,
		Channel:     c.Channel,
		Encryption:  enc,
		MaxStations: c.MaxStations,
		Hidden:      c.Hidden,
	}
	if err := ap.Validate(); err != nil {
		return 0, espwifi.APConfig{}, err
	}
	return mode, ap, nil
}
