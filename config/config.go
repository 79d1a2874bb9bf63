// Package config loads the devicefs TOML configuration and applies logging
// settings.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/digest"
	"github.com/opd-ai/devicefs/ftp"
	"github.com/opd-ai/devicefs/limits"
	"github.com/opd-ai/devicefs/push"
	"github.com/opd-ai/devicefs/storage"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Push      PushConfig
	Reconcile ReconcileConfig
	Log       LogConfig
}

// ServerConfig configures the FTP command server.
type ServerConfig struct {
	Listen         []string
	Port           int
	PassiveListen  string
	PassiveAddress string
	Platform       string
	CommandTimeout time.Duration
	DataTimeout    time.Duration
	AcceptTimeout  time.Duration
	MaxSessions    int
	// MetricsAddr, when set, exposes Prometheus metrics over HTTP.
	MetricsAddr string
}

// StorageConfig selects the host directory standing in for device storage.
type StorageConfig struct {
	Root       string
	BufferSize int
	Buffers    int
}

// PushConfig configures the device side of the push protocol.
type PushConfig struct {
	Host        string
	DialTimeout time.Duration
	IdleTimeout time.Duration
}

// ReconcileConfig holds defaults for reconciliation and scans.
type ReconcileConfig struct {
	Algorithm digest.Algorithm
	Exclude   []string
}

// LogConfig controls logging. Verbose 0 logs warnings, 1 info, 2 debug.
type LogConfig struct {
	Verbose int
	Format  string
}

// Default returns the device defaults.
func Default() Config {
	server := ftp.DefaultConfig()
	device := push.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Port:           server.Port,
			PassiveListen:  server.PassiveListen,
			Platform:       server.Platform,
			CommandTimeout: server.CommandTimeout,
			DataTimeout:    server.DataTimeout,
			AcceptTimeout:  server.AcceptTimeout,
		},
		Storage: StorageConfig{
			Root:       ".",
			BufferSize: limits.DefaultChunkSize,
			Buffers:    limits.DefaultBufferCount,
		},
		Push: PushConfig{
			DialTimeout: device.DialTimeout,
			IdleTimeout: device.IdleTimeout,
		},
		Reconcile: ReconcileConfig{
			Algorithm: digest.CRC32,
		},
		Log: LogConfig{
			Format: "text",
		},
	}
}

type fileConfig struct {
	Server struct {
		Listen         []string `toml:"listen"`
		Port           int      `toml:"port"`
		PassiveListen  string   `toml:"passive_listen"`
		PassiveAddress string   `toml:"passive_address"`
		Platform       string   `toml:"platform"`
		CommandTimeout string   `toml:"command_timeout"`
		DataTimeout    string   `toml:"data_timeout"`
		AcceptTimeout  string   `toml:"accept_timeout"`
		MaxSessions    int      `toml:"max_sessions"`
		MetricsAddr    string   `toml:"metrics_addr"`
	} `toml:"server"`
	Storage struct {
		Root       string `toml:"root"`
		BufferSize int    `toml:"buffer_size"`
		Buffers    int    `toml:"buffers"`
	} `toml:"storage"`
	Push struct {
		Host        string `toml:"host"`
		DialTimeout string `toml:"dial_timeout"`
		IdleTimeout string `toml:"idle_timeout"`
	} `toml:"push"`
	Reconcile struct {
		Algorithm string   `toml:"algorithm"`
		Exclude   []string `toml:"exclude"`
	} `toml:"reconcile"`
	Log struct {
		Verbose int    `toml:"verbose"`
		Format  string `toml:"format"`
	} `toml:"log"`
}

// Load overlays the TOML file at path onto Default and validates the result.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	durations := []struct {
		key []string
		src string
		dst *time.Duration
	}{
		{[]string{"server", "command_timeout"}, raw.Server.CommandTimeout, &cfg.Server.CommandTimeout},
		{[]string{"server", "data_timeout"}, raw.Server.DataTimeout, &cfg.Server.DataTimeout},
		{[]string{"server", "accept_timeout"}, raw.Server.AcceptTimeout, &cfg.Server.AcceptTimeout},
		{[]string{"push", "dial_timeout"}, raw.Push.DialTimeout, &cfg.Push.DialTimeout},
		{[]string{"push", "idle_timeout"}, raw.Push.IdleTimeout, &cfg.Push.IdleTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.src))
		if err != nil {
			return Config{}, fmt.Errorf("load config: %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("server", "listen") {
		cfg.Server.Listen = raw.Server.Listen
	}
	if meta.IsDefined("server", "port") {
		cfg.Server.Port = raw.Server.Port
	}
	if meta.IsDefined("server", "passive_listen") {
		cfg.Server.PassiveListen = strings.TrimSpace(raw.Server.PassiveListen)
	}
	if meta.IsDefined("server", "passive_address") {
		cfg.Server.PassiveAddress = strings.TrimSpace(raw.Server.PassiveAddress)
	}
	if meta.IsDefined("server", "platform") {
		cfg.Server.Platform = strings.TrimSpace(raw.Server.Platform)
	}
	if meta.IsDefined("server", "max_sessions") {
		cfg.Server.MaxSessions = raw.Server.MaxSessions
	}
	if meta.IsDefined("server", "metrics_addr") {
		cfg.Server.MetricsAddr = strings.TrimSpace(raw.Server.MetricsAddr)
	}
	if meta.IsDefined("storage", "root") {
		cfg.Storage.Root = strings.TrimSpace(raw.Storage.Root)
	}
	if meta.IsDefined("storage", "buffer_size") {
		cfg.Storage.BufferSize = raw.Storage.BufferSize
	}
	if meta.IsDefined("storage", "buffers") {
		cfg.Storage.Buffers = raw.Storage.Buffers
	}
	if meta.IsDefined("push", "host") {
		cfg.Push.Host = strings.TrimSpace(raw.Push.Host)
	}
	if meta.IsDefined("reconcile", "algorithm") {
		cfg.Reconcile.Algorithm = digest.Algorithm(strings.ToLower(strings.TrimSpace(raw.Reconcile.Algorithm)))
	}
	if meta.IsDefined("reconcile", "exclude") {
		cfg.Reconcile.Exclude = raw.Reconcile.Exclude
	}
	if meta.IsDefined("log", "verbose") {
		cfg.Log.Verbose = raw.Log.Verbose
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(raw.Log.Format))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("%w: storage.root is empty", ErrInvalid)
	}
	if err := limits.ValidateChunkSize(c.Storage.BufferSize); err != nil {
		return fmt.Errorf("%w: storage.buffer_size: %v", ErrInvalid, err)
	}
	if c.Storage.Buffers <= 0 {
		return fmt.Errorf("%w: storage.buffers must be positive", ErrInvalid)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	if c.Server.PassiveListen == "" {
		return fmt.Errorf("%w: server.passive_listen is empty", ErrInvalid)
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("%w: server.max_sessions is negative", ErrInvalid)
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"server.command_timeout", c.Server.CommandTimeout},
		{"server.data_timeout", c.Server.DataTimeout},
		{"server.accept_timeout", c.Server.AcceptTimeout},
		{"push.dial_timeout", c.Push.DialTimeout},
		{"push.idle_timeout", c.Push.IdleTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, t.name)
		}
	}

	if _, err := digest.Parse(string(c.Reconcile.Algorithm)); err != nil {
		return fmt.Errorf("%w: reconcile.algorithm: %v", ErrInvalid, err)
	}
	if c.Log.Verbose < 0 {
		return fmt.Errorf("%w: log.verbose is negative", ErrInvalid)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (expected text or json)", ErrInvalid, c.Log.Format)
	}
	return nil
}

// FTP converts the server section into an ftp.Config.
func (c Config) FTP() ftp.Config {
	return ftp.Config{
		Listen:         c.Server.Listen,
		Port:           c.Server.Port,
		PassiveListen:  c.Server.PassiveListen,
		PassiveAddress: c.Server.PassiveAddress,
		Platform:       c.Server.Platform,
		CommandTimeout: c.Server.CommandTimeout,
		DataTimeout:    c.Server.DataTimeout,
		AcceptTimeout:  c.Server.AcceptTimeout,
		MaxSessions:    c.Server.MaxSessions,
	}
}

// PushDriver converts the push section into a push.Config.
func (c Config) PushDriver() push.Config {
	return push.Config{
		Host:        c.Push.Host,
		DialTimeout: c.Push.DialTimeout,
		IdleTimeout: c.Push.IdleTimeout,
	}
}

// NewPool allocates the shared transfer buffers.
func (c Config) NewPool() (*buffer.Pool, error) {
	return buffer.NewPool(c.Storage.Buffers, c.Storage.BufferSize)
}

// OpenStorage opens the storage root.
func (c Config) OpenStorage() (*storage.DirFS, error) {
	return storage.NewDirFS(c.Storage.Root)
}
