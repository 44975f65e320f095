package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"thread-erp-go/pkg/logger"
)

type Config struct {
	HTTPPort           string
	Env                string
	OfflineSyncEnabled bool
	MetricsEnabled     bool
	AllowedOrigins     []string
	Auth               AuthConfig
	Allocation         AllocationConfig
	Realtime           RealtimeConfig
	DB                 DBConfig
}

type AuthConfig struct {
	// APIToken guards every /api route except health and metrics. Empty disables the guard.
	APIToken string
	SkipAuth bool
	Operator string
}

type AllocationConfig struct {
	AutoDetectConflicts bool
	ThreadTypeCacheTTL  time.Duration
}

type RealtimeConfig struct {
	Enabled      bool
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

type DBConfig struct {
	DSN             string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	TimeZone        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("OFFLINE_SYNC_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("API_TOKEN", "")
	v.SetDefault("AUTH_SKIP", false)
	v.SetDefault("AUTH_DEFAULT_OPERATOR", "system")
	v.SetDefault("ALLOCATION_AUTO_DETECT_CONFLICTS", true)
	v.SetDefault("THREAD_TYPE_CACHE_TTL", 5*time.Minute)
	v.SetDefault("REALTIME_ENABLED", true)
	v.SetDefault("REALTIME_WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("REALTIME_PING_INTERVAL", 30*time.Second)
	v.SetDefault("REALTIME_SEND_BUFFER", 64)
	v.SetDefault("DB_DSN", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "thread_erp")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_TIMEZONE", "UTC")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_AUTO_MIGRATE", true)
}

// Load reads the server settings from the environment after applying .env.
func Load(log logger.Logger) (Config, error) {
	if err := loadDotEnv(log); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	serverDefaults(v)
	v.AutomaticEnv()

	return Config{
		HTTPPort:           v.GetString("HTTP_PORT"),
		Env:                v.GetString("ENV"),
		OfflineSyncEnabled: v.GetBool("OFFLINE_SYNC_ENABLED"),
		MetricsEnabled:     v.GetBool("METRICS_ENABLED"),
		AllowedOrigins:     splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Auth: AuthConfig{
			APIToken: v.GetString("API_TOKEN"),
			SkipAuth: v.GetBool("AUTH_SKIP"),
			Operator: v.GetString("AUTH_DEFAULT_OPERATOR"),
		},
		Allocation: AllocationConfig{
			AutoDetectConflicts: v.GetBool("ALLOCATION_AUTO_DETECT_CONFLICTS"),
			ThreadTypeCacheTTL:  v.GetDuration("THREAD_TYPE_CACHE_TTL"),
		},
		Realtime: RealtimeConfig{
			Enabled:      v.GetBool("REALTIME_ENABLED"),
			WriteTimeout: v.GetDuration("REALTIME_WRITE_TIMEOUT"),
			PingInterval: v.GetDuration("REALTIME_PING_INTERVAL"),
			SendBuffer:   v.GetInt("REALTIME_SEND_BUFFER"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetString("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			TimeZone:        v.GetString("DB_TIMEZONE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
			AutoMigrate:     v.GetBool("DB_AUTO_MIGRATE"),
		},
	}, nil
}

func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func (c DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode +
		" TimeZone=" + c.TimeZone
}
