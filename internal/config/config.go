package config

import "time"

// Fallback modes for the client transport.
const (
	FallbackOff    = "off"
	FallbackAuto   = "auto"
	FallbackAlways = "always"
)

// Config holds server and client configuration values.
type Config struct {
	Addr                 string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout    time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel             string        `mapstructure:"log_level" yaml:"log_level"`
	MaxMessageBytes      int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer           int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxMessagesPerMinute int           `mapstructure:"max_messages_per_minute" yaml:"max_messages_per_minute"`
	Client               ClientConfig  `mapstructure:"client" yaml:"client"`
}

// ClientConfig configures the party client: where to connect, when to fall back,
// and how the local clock and reconnection behave.
type ClientConfig struct {
	ServerURL            string        `mapstructure:"server_url" yaml:"server_url"`
	Fallback             string        `mapstructure:"fallback" yaml:"fallback"`
	FallbackPath         string        `mapstructure:"fallback_path" yaml:"fallback_path"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	TickInterval         time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	ResyncInterval       time.Duration `mapstructure:"resync_interval" yaml:"resync_interval"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                 ":8080",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		LogLevel:             "info",
		MaxMessageBytes:      64 << 10,
		SendBuffer:           64,
		MaxMessagesPerMinute: 0,
		Client: ClientConfig{
			ServerURL:            "ws://localhost:8080/ws",
			Fallback:             FallbackAuto,
			FallbackPath:         "watchparty-local.db",
			MaxReconnectAttempts: 5,
			ReconnectDelay:       2 * time.Second,
			DialTimeout:          5 * time.Second,
			TickInterval:         100 * time.Millisecond,
			ResyncInterval:       5 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
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
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.SendBuffer != 0 {
		c.SendBuffer = other.SendBuffer
	}
	if other.MaxMessagesPerMinute != 0 {
		c.MaxMessagesPerMinute = other.MaxMessagesPerMinute
	}
	c.Client.updateFrom(other.Client)
}

func (c *ClientConfig) updateFrom(other ClientConfig) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.Fallback != "" {
		c.Fallback = other.Fallback
	}
	if other.FallbackPath != "" {
		c.FallbackPath = other.FallbackPath
	}
	if other.MaxReconnectAttempts != 0 {
		c.MaxReconnectAttempts = other.MaxReconnectAttempts
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.DialTimeout != 0 {
		c.DialTimeout = other.DialTimeout
	}
	if other.TickInterval != 0 {
		c.TickInterval = other.TickInterval
	}
	if other.ResyncInterval != 0 {
		c.ResyncInterval = other.ResyncInterval
	}
}
