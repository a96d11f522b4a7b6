// Package config provides Viper-based configuration loading for the chat server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
}

// LineConfig holds settings for the line-protocol TCP listener.
type LineConfig struct {
	// Host is the bind address for the line listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the line listener.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds the wait for the next command line. Zero disables it,
	// which lets a silent client hold its worker indefinitely.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds each write to the client socket. Zero disables it.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// OutboxSize is the number of pushed messages buffered per session before
	// the session is considered unreachable.
	OutboxSize int `mapstructure:"outbox_size"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l LineConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// DispatcherConfig holds the connection worker pool settings.
type DispatcherConfig struct {
	// Workers is the number of connections served concurrently.
	Workers int `mapstructure:"workers"`
}

// RPCConfig holds settings for the gRPC callback front end.
type RPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	// OutboxSize is the number of pushed messages buffered per stream.
	OutboxSize int `mapstructure:"outbox_size"`
}

// Addr returns the "host:port" gRPC address.
func (r RPCConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// WebSocketConfig holds settings for the WebSocket bridge.
type WebSocketConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	OutboxSize   int           `mapstructure:"outbox_size"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// MaxMessageSize caps a single inbound frame in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
}

// Addr returns the "host:port" HTTP address.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// RoomsConfig holds room bootstrap settings.
type RoomsConfig struct {
	// SeedFile is an optional YAML file listing rooms created at startup.
	SeedFile string `mapstructure:"seed_file"`
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Line       LineConfig       `mapstructure:"line"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Rooms      RoomsConfig      `mapstructure:"rooms"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if c.Server.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if err := validateLine(c.Line); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Dispatcher.Workers < 1 {
		errs = append(errs, fmt.Sprintf("dispatcher.workers must be >= 1, got %d", c.Dispatcher.Workers))
	}
	if err := validateRPC(c.RPC); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(key string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return nil
}

func validateLine(l LineConfig) error {
	var errs []string
	if err := validatePort("line.port", l.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, "line.read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, "line.write_timeout must not be negative")
	}
	if l.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("line.outbox_size must be >= 1, got %d", l.OutboxSize))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateRPC(r RPCConfig) error {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if r.Host == "" {
		errs = append(errs, "rpc.host must not be empty")
	}
	if err := validatePort("rpc.port", r.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if r.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("rpc.outbox_size must be >= 1, got %d", r.OutboxSize))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	if !w.Enabled {
		return nil
	}
	var errs []string
	if err := validatePort("websocket.port", w.Port); err != nil {
		errs = append(errs, err.Error())
	}
	if w.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.outbox_size must be >= 1, got %d", w.OutboxSize))
	}
	if w.PingInterval <= 0 {
		errs = append(errs, "websocket.ping_interval must be positive")
	}
	if w.WriteTimeout < 0 {
		errs = append(errs, "websocket.write_timeout must not be negative")
	}
	if w.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_size must be >= 1, got %d", w.MaxMessageSize))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path loads defaults and
// environment overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance carrying the defaults and the ROOMCHAT_
// environment override rules.
//
// Postcondition: Returns a non-nil Viper with no config file attached.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with ROOMCHAT_ prefix
	v.SetEnvPrefix("ROOMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "roomchat")

	v.SetDefault("line.host", "0.0.0.0")
	v.SetDefault("line.port", 8000)
	v.SetDefault("line.read_timeout", "5m")
	v.SetDefault("line.write_timeout", "30s")
	v.SetDefault("line.outbox_size", 64)

	v.SetDefault("dispatcher.workers", 10)

	v.SetDefault("rpc.enabled", true)
	v.SetDefault("rpc.host", "0.0.0.0")
	v.SetDefault("rpc.port", 50051)
	v.SetDefault("rpc.outbox_size", 64)

	v.SetDefault("websocket.enabled", false)
	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8080)
	v.SetDefault("websocket.outbox_size", 64)
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.max_message_size", 8192)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("rooms.seed_file", "")
}
