package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevelEnvVar is the environment variable that controls logging verbosity
// when Config.Level is empty.
const LogLevelEnvVar = "ESPWIFI_LOG_LEVEL"

// FileConfig enables a rotated log file.
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`    // megabytes
	MaxBackups int    `mapstructure:"max_backups"` // number of backups
	MaxAge     int    `mapstructure:"max_age"`     // days
	Compress   bool   `mapstructure:"compress"`
}

// Config describes the logger built by New.
type Config struct {
	Level    string     `mapstructure:"level"`    // debug, info, warn, error; empty: silent
	Encoding string     `mapstructure:"encoding"` // console or json
	File     FileConfig `mapstructure:"file"`
}

// New builds a logger. With an empty level (and LogLevelEnvVar unset) it
// returns a no-op logger.
func New(cfg Config) (*zap.Logger, error) {
	level := cfg.Level
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var enc zapcore.Encoder
	switch cfg.Encoding {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log encoding: unknown %q", cfg.Encoding)
	}

	ws := zapcore.Lock(os.Stderr)
	if cfg.File.Filename != "" {
		ws = zapcore.NewMultiWriteSyncer(ws, zapcore.AddSync(newFileWriter(cfg.File)))
	}
	core := zapcore.NewCore(enc, ws, zap.NewAtomicLevelAt(lvl))
	return zap.New(core, zap.AddCaller()), nil
}

// newFileWriter creates a lumberjack file writer for log rotation.
func newFileWriter(fc FileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   fc.Filename,
		MaxSize:    fc.MaxSize,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAge,
		Compress:   fc.Compress,
	}
}

// maxDump limits the dumped part of a byte slice.
const maxDump = 256

// Bytes returns fields describing raw protocol bytes: length, hex and ascii
// dumps of at most 256 bytes.
func Bytes(key string, data []byte) zap.Field {
	return zap.Object(key, byteDump(data))
}

type byteDump []byte

func (b byteDump) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("len", len(b))
	enc.AddString("hex", hexDump(b))
	enc.AddString("ascii", asciiDump(b))
	return nil
}

func hexDump(data []byte) string {
	if len(data) > maxDump {
		return hex.EncodeToString(data[:maxDump]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) > maxDump {
		data = data[:maxDump]
	}
	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}
