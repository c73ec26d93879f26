// Package config loads the server configuration from debug-session.yaml and
// DEBUG_SESSION_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fansqz/debug-session/constants"
	"github.com/fansqz/debug-session/events"
	"github.com/fansqz/debug-session/lifecycle"
	"github.com/fansqz/debug-session/session"
	"github.com/spf13/viper"
)

const (
	configName = "debug-session"
	envPrefix  = "DEBUG_SESSION"
)

// Config 服务配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Transport TransportConfig `mapstructure:"transport"`
	Events    EventsConfig    `mapstructure:"events"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Session   SessionConfig   `mapstructure:"session"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig 日志配置，File为空时输出到stderr
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type EngineConfig struct {
	Backend string `mapstructure:"backend"`
}

type TransportConfig struct {
	MaxMessageSize int `mapstructure:"max_message_size"`
}

type EventsConfig struct {
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
	OutputChunkSize int           `mapstructure:"output_chunk_size"`
}

type LifecycleConfig struct {
	StopDelay      time.Duration `mapstructure:"stop_delay"`
	DestroyTimeout time.Duration `mapstructure:"destroy_timeout"`
	SignalGrace    time.Duration `mapstructure:"signal_grace"`
	SignalTimeout  time.Duration `mapstructure:"signal_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// SessionConfig IdleTimeout为0时不检测空闲连接
type SessionConfig struct {
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

type LimitsConfig struct {
	MaxMemoryTransfer   int    `mapstructure:"max_memory_transfer"`
	MaxDisassembleRange uint64 `mapstructure:"max_disassemble_range"`
}

// Default returns a Config with default values
func Default() *Config {
	lc := lifecycle.DefaultOptions()
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{Backend: "simulator"},
		Transport: TransportConfig{
			MaxMessageSize: constants.MaxMessageSize,
		},
		Events: EventsConfig{
			WaitTimeout:     time.Second,
			OutputChunkSize: 4096,
		},
		Lifecycle: LifecycleConfig{
			StopDelay:      lc.StopDelay,
			DestroyTimeout: lc.DestroyTimeout,
			SignalGrace:    lc.SignalGrace,
			SignalTimeout:  lc.SignalTimeout,
			PollInterval:   lc.PollInterval,
		},
		Limits: LimitsConfig{
			MaxMemoryTransfer:   constants.MaxMemoryTransfer,
			MaxDisassembleRange: constants.MaxDisassembleRange,
		},
	}
}

// Load reads the config file at path, or searches the default locations when
// path is empty. A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc/debug-session/")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "debug-session"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 注册所有key的默认值，Unmarshal才能读取到对应的环境变量
	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("engine.backend", cfg.Engine.Backend)
	v.SetDefault("transport.max_message_size", cfg.Transport.MaxMessageSize)
	v.SetDefault("events.wait_timeout", cfg.Events.WaitTimeout)
	v.SetDefault("events.output_chunk_size", cfg.Events.OutputChunkSize)
	v.SetDefault("lifecycle.stop_delay", cfg.Lifecycle.StopDelay)
	v.SetDefault("lifecycle.destroy_timeout", cfg.Lifecycle.DestroyTimeout)
	v.SetDefault("lifecycle.signal_grace", cfg.Lifecycle.SignalGrace)
	v.SetDefault("lifecycle.signal_timeout", cfg.Lifecycle.SignalTimeout)
	v.SetDefault("lifecycle.poll_interval", cfg.Lifecycle.PollInterval)
	v.SetDefault("session.idle_timeout", cfg.Session.IdleTimeout)
	v.SetDefault("limits.max_memory_transfer", cfg.Limits.MaxMemoryTransfer)
	v.SetDefault("limits.max_disassemble_range", cfg.Limits.MaxDisassembleRange)
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Transport.MaxMessageSize <= 0 {
		return fmt.Errorf("transport.max_message_size must be positive, got %d", c.Transport.MaxMessageSize)
	}
	if c.Events.WaitTimeout <= 0 {
		return fmt.Errorf("events.wait_timeout must be positive, got %s", c.Events.WaitTimeout)
	}
	if c.Session.IdleTimeout < 0 {
		return fmt.Errorf("session.idle_timeout must not be negative, got %s", c.Session.IdleTimeout)
	}
	if c.Limits.MaxMemoryTransfer > constants.MaxMemoryTransfer {
		return fmt.Errorf("limits.max_memory_transfer exceeds %d", constants.MaxMemoryTransfer)
	}
	if c.Limits.MaxDisassembleRange > constants.MaxDisassembleRange {
		return fmt.Errorf("limits.max_disassemble_range exceeds %d", constants.MaxDisassembleRange)
	}
	return nil
}

// SessionOptions maps the config onto session options.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		Backend:             c.Engine.Backend,
		MaxMessageSize:      c.Transport.MaxMessageSize,
		MaxMemoryTransfer:   c.Limits.MaxMemoryTransfer,
		MaxDisassembleRange: c.Limits.MaxDisassembleRange,
		IdleTimeout:         c.Session.IdleTimeout,
		Events: events.Options{
			WaitTimeout:     c.Events.WaitTimeout,
			OutputChunkSize: c.Events.OutputChunkSize,
		},
		Lifecycle: lifecycle.Options{
			StopDelay:      c.Lifecycle.StopDelay,
			DestroyTimeout: c.Lifecycle.DestroyTimeout,
			SignalGrace:    c.Lifecycle.SignalGrace,
			SignalTimeout:  c.Lifecycle.SignalTimeout,
			PollInterval:   c.Lifecycle.PollInterval,
		},
	}
}
