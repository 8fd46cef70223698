package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "WATCHPARTY_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix("WATCHPARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, configPath, err
	}

	return cfg, configPath, nil
}

// Every key needs a default so AutomaticEnv can resolve nested client values.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("max_message_bytes", cfg.MaxMessageBytes)
	v.SetDefault("send_buffer", cfg.SendBuffer)
	v.SetDefault("max_messages_per_minute", cfg.MaxMessagesPerMinute)

	v.SetDefault("client.server_url", cfg.Client.ServerURL)
	v.SetDefault("client.fallback", cfg.Client.Fallback)
	v.SetDefault("client.fallback_path", cfg.Client.FallbackPath)
	v.SetDefault("client.max_reconnect_attempts", cfg.Client.MaxReconnectAttempts)
	v.SetDefault("client.reconnect_delay", cfg.Client.ReconnectDelay)
	v.SetDefault("client.dial_timeout", cfg.Client.DialTimeout)
	v.SetDefault("client.tick_interval", cfg.Client.TickInterval)
	v.SetDefault("client.resync_interval", cfg.Client.ResyncInterval)
}

// Validate rejects values the server or client cannot run with.
func (c Config) Validate() error {
	switch c.Client.Fallback {
	case FallbackOff, FallbackAuto, FallbackAlways:
	default:
		return fmt.Errorf("invalid client.fallback %q: want off, auto or always", c.Client.Fallback)
	}
	if c.Client.MaxReconnectAttempts < 0 {
		return fmt.Errorf("client.max_reconnect_attempts must not be negative")
	}
	if c.Client.TickInterval <= 0 || c.Client.ResyncInterval <= 0 {
		return fmt.Errorf("client tick and resync intervals must be positive")
	}
	if c.MaxMessageBytes < 0 || c.MaxMessagesPerMinute < 0 {
		return fmt.Errorf("message limits must not be negative")
	}
	return nil
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
