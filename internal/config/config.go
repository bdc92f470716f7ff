package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Remote       RemoteConfig    `mapstructure:"remote"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type StateStorage struct {
	Type     string `mapstructure:"type"` // sqlite, mysql or memory
	FilePath string `mapstructure:"file_path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SyncConfig struct {
	BatchSize      int     `mapstructure:"batch_size"`
	RetryLimit     int     `mapstructure:"retry_limit"`
	MaxQueueSize   int     `mapstructure:"max_queue_size"`
	DeltaBlockSize int     `mapstructure:"delta_block_size"`
	DeltaMinRatio  float64 `mapstructure:"delta_min_ratio"`
}

type RemoteConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AuthToken      string `mapstructure:"auth_token"`
	RequestTimeout string `mapstructure:"request_timeout"`
	HealthInterval string `mapstructure:"health_interval"`
}

func (r RemoteConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(r.RequestTimeout)
	return d
}

func (r RemoteConfig) GetHealthInterval() time.Duration {
	d, _ := time.ParseDuration(r.HealthInterval)
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "offsync.db")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.retry_limit", 3)
	v.SetDefault("sync.max_queue_size", 10000)
	v.SetDefault("sync.delta_block_size", 4096)
	v.SetDefault("sync.delta_min_ratio", 0.25)
	v.SetDefault("remote.request_timeout", "30s")
	v.SetDefault("remote.health_interval", "15s")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 15m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
