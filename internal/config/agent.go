package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"thread-erp-go/pkg/logger"
)

const agentEnvPrefix = "THREAD_AGENT"

type AgentConfig struct {
	ServerURL      string             `mapstructure:"server_url"`
	APIToken       string             `mapstructure:"api_token"`
	DeviceID       string             `mapstructure:"device_id"`
	Operator       string             `mapstructure:"operator"`
	ListenAddr     string             `mapstructure:"listen_addr"`
	AllowedOrigins []string           `mapstructure:"allowed_origins"`
	MetricsEnabled bool               `mapstructure:"metrics_enabled"`
	Queue          QueueConfig        `mapstructure:"queue"`
	Reachability   ReachabilityConfig `mapstructure:"reachability"`
	Sync           SyncConfig         `mapstructure:"sync"`
	Realtime       AgentRealtime      `mapstructure:"realtime"`
	Conflicts      ConflictsConfig    `mapstructure:"conflicts"`
}

type QueueConfig struct {
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
}

type ReachabilityConfig struct {
	ProbeSchedule string        `mapstructure:"probe_schedule"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type SyncConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type AgentRealtime struct {
	Enabled              bool          `mapstructure:"enabled"`
	Debounce             time.Duration `mapstructure:"debounce"`
	WarehouseID          int64         `mapstructure:"warehouse_id"`
	BaseDelay            time.Duration `mapstructure:"base_delay"`
	MaxDelay             time.Duration `mapstructure:"max_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

type ConflictsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func agentDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("api_token", "")
	v.SetDefault("device_id", defaultDeviceID())
	v.SetDefault("operator", "")
	v.SetDefault("listen_addr", "127.0.0.1:7070")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("queue.store", "sqlite")
	v.SetDefault("queue.path", "thread-agent.db")
	v.SetDefault("reachability.probe_schedule", "@every 5s")
	v.SetDefault("reachability.probe_timeout", 3*time.Second)
	v.SetDefault("sync.request_timeout", 15*time.Second)
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.debounce", 100*time.Millisecond)
	v.SetDefault("realtime.warehouse_id", 0)
	v.SetDefault("realtime.base_delay", time.Second)
	v.SetDefault("realtime.max_delay", 30*time.Second)
	v.SetDefault("realtime.max_reconnect_attempts", 5)
	v.SetDefault("conflicts.poll_interval", 30*time.Second)
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "thread-agent"
	}
	return host
}

// LoadAgent reads an optional YAML file and applies THREAD_AGENT_* overrides,
// e.g. THREAD_AGENT_QUEUE_PATH for queue.path.
func LoadAgent(path string, log logger.Logger) (AgentConfig, error) {
	if err := loadDotEnv(log); err != nil {
		return AgentConfig{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	agentDefaults(v)
	v.SetEnvPrefix(agentEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return AgentConfig{}, fmt.Errorf("read agent config %s: %w", path, err)
		}
		log.Info("config: loaded agent file", "path", path)
	}

	var cfg AgentConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("unmarshal agent config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return AgentConfig{}, fmt.Errorf("agent config validation failed: %w", err)
	}

	return cfg, nil
}

func (c AgentConfig) Validate() error {
	parsed, err := url.Parse(c.ServerURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server_url must be an absolute url, got %q", c.ServerURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server_url scheme must be http or https, got %q", parsed.Scheme)
	}

	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}

	switch c.Queue.Store {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Queue.Path) == "" {
			return errors.New("queue.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("queue.store must be sqlite or memory, got %q", c.Queue.Store)
	}

	if strings.TrimSpace(c.Reachability.ProbeSchedule) == "" {
		return errors.New("reachability.probe_schedule is required")
	}
	if c.Realtime.Debounce < 0 {
		return errors.New("realtime.debounce must not be negative")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return errors.New("realtime.max_reconnect_attempts must not be negative")
	}
	if c.Conflicts.PollInterval <= 0 {
		return errors.New("conflicts.poll_interval must be positive")
	}

	return nil
}

// RealtimeURL maps the server base url to its websocket change feed.
func (c AgentConfig) RealtimeURL() string {
	base := strings.TrimRight(c.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/realtime"
}
