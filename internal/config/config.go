package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	ClientBuffer      int           `mapstructure:"client_buffer" yaml:"client_buffer"`
	InboundRate       float64       `mapstructure:"inbound_rate" yaml:"inbound_rate"`
	InboundBurst      int           `mapstructure:"inbound_burst" yaml:"inbound_burst"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool   `mapstructure:"jwt_required" yaml:"jwt_required"`

	KeepAliveInterval   time.Duration `mapstructure:"keep_alive_interval" yaml:"keep_alive_interval"`
	TypingWindow        time.Duration `mapstructure:"typing_window" yaml:"typing_window"`
	TypingSweepInterval time.Duration `mapstructure:"typing_sweep_interval" yaml:"typing_sweep_interval"`
	EchoMessages        bool          `mapstructure:"echo_messages" yaml:"echo_messages"`
	EchoTyping          bool          `mapstructure:"echo_typing" yaml:"echo_typing"`
	StopTypingSignal    bool          `mapstructure:"stop_typing_signal" yaml:"stop_typing_signal"`

	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// ClientConfig holds ConnectionManager settings used by the chat command.
type ClientConfig struct {
	ServerURL       string        `mapstructure:"server_url" yaml:"server_url"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Multiplier      float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxDelay        time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Fallback        bool          `mapstructure:"fallback" yaml:"fallback"`
	FallbackChannel string        `mapstructure:"fallback_channel" yaml:"fallback_channel"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		MaxMessageBytes:     64 << 10,
		ClientBuffer:        32,
		InboundRate:         20,
		InboundBurst:        40,
		KeepAliveInterval:   25 * time.Second,
		TypingWindow:        3 * time.Second,
		TypingSweepInterval: 30 * time.Second,
		EchoMessages:        true,
		EchoTyping:          false,
		StopTypingSignal:    true,
		Client: ClientConfig{
			ServerURL:   "ws://localhost:8080/ws",
			MaxAttempts: 50,
			BaseDelay:   time.Second,
			Multiplier:  2,
			Fallback:    true,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Booleans are not merged since false cannot be told apart from unset.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.KeepAliveInterval != 0 {
		c.KeepAliveInterval = other.KeepAliveInterval
	}
	if other.TypingWindow != 0 {
		c.TypingWindow = other.TypingWindow
	}
	if other.Client.ServerURL != "" {
		c.Client.ServerURL = other.Client.ServerURL
	}
	if other.Client.MaxAttempts != 0 {
		c.Client.MaxAttempts = other.Client.MaxAttempts
	}
	if other.Client.BaseDelay != 0 {
		c.Client.BaseDelay = other.Client.BaseDelay
	}
}

// Validate rejects values the realtime layer cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.KeepAliveInterval <= 0 {
		errs = append(errs, fmt.Errorf("keep_alive_interval must be positive, got %s", c.KeepAliveInterval))
	}
	if c.TypingWindow <= 0 {
		errs = append(errs, fmt.Errorf("typing_window must be positive, got %s", c.TypingWindow))
	}
	if c.JWTRequired && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_required needs jwt_secret"))
	}
	if c.Client.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("client.max_attempts must not be negative, got %d", c.Client.MaxAttempts))
	}
	if c.Client.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("client.base_delay must be positive, got %s", c.Client.BaseDelay))
	}
	if c.Client.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("client.multiplier must be at least 1, got %g", c.Client.Multiplier))
	}
	return errors.Join(errs...)
}
