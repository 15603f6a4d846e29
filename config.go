package coaptcp

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"
)

// Config holds the transport settings loadable from a TOML file.
type Config struct {
	ListenAddr     string
	MaxMessageSize int
	SendBuffer     int
	DialTimeout    time.Duration
	Keepalive      time.Duration
}

// fileConfig maps config.toml keys onto transport settings. Durations
// are given as strings in time.ParseDuration syntax.
type fileConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	MaxMessageSize int    `toml:"max_message_size"`
	SendBuffer     int    `toml:"send_buffer"`
	DialTimeout    string `toml:"dial_timeout"`
	Keepalive      string `toml:"keepalive"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":5683",
		MaxMessageSize: defaultMaxMessageSize,
		SendBuffer:     defaultBufferSize,
		DialTimeout:    defaultDialTimeout,
	}
}

// LoadConfig reads a TOML config file, overlaying only the keys the
// file actually defines onto the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, pkgerrors.Wrap(err, "load transport config")
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("send_buffer") {
		cfg.SendBuffer = raw.SendBuffer
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(raw.DialTimeout)
		if err != nil {
			return Config{}, pkgerrors.Wrap(err, "parse dial_timeout")
		}
		cfg.DialTimeout = d
	}
	if meta.IsDefined("keepalive") {
		d, err := time.ParseDuration(raw.Keepalive)
		if err != nil {
			return Config{}, pkgerrors.Wrap(err, "parse keepalive")
		}
		cfg.Keepalive = d
	}

	return cfg, nil
}

// Options converts the config into functional options for NewServer
// and NewClient.
func (c Config) Options() []Option {
	return []Option{
		MaxMessageSizeOption(c.MaxMessageSize),
		BufferSizeOption(c.SendBuffer),
		DialTimeoutOption(c.DialTimeout),
		KeepaliveOption(c.Keepalive),
	}
}
