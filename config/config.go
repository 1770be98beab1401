// Package config 定义 pricekit 的配置结构，负责加载配置并组装推理服务。
//
// 使用配置驱动时，需在 main 或入口处 import _ "github.com/rushteam/pricekit/config/builders"
// 以触发内置后端（tracking: memory / redis / sqlite / postgres / mlflow，artifacts: file / memory / redis）的注册。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量前缀，例如 PRICEKIT_TRACKING_URI
const EnvPrefix = "PRICEKIT"

// Config 是完整配置
type Config struct {
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Schema     SchemaConfig     `mapstructure:"schema"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
}

// ExperimentConfig 实验配置
type ExperimentConfig struct {
	Name string `mapstructure:"name"`
}

// TrackingConfig 实验追踪后端配置
type TrackingConfig struct {
	// Backend: memory / redis / sqlite / postgres / mlflow
	Backend string `mapstructure:"backend"`
	// DSN 用于 sqlite（文件路径）与 postgres（连接串）
	DSN string `mapstructure:"dsn"`
	// URI 用于 mlflow，例如 http://localhost:5000
	URI string `mapstructure:"uri"`
	// RunFilter 附加的 CEL 过滤表达式
	RunFilter string        `mapstructure:"run_filter"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ArtifactsConfig 模型文件存储配置
type ArtifactsConfig struct {
	// Backend: file / memory / redis
	Backend string `mapstructure:"backend"`
	// Root 为 file 后端的根目录（mlruns）
	Root     string        `mapstructure:"root"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RedisConfig Redis 连接配置，tracking / artifacts 使用 redis 后端时生效
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchemaConfig 特征 schema 配置，File 为空时使用内置 schema
type SchemaConfig struct {
	// File 为本地路径或 http(s) URL
	File string `mapstructure:"file"`
}

// MetricsConfig 展示的 run 指标
type MetricsConfig struct {
	Keys []string `mapstructure:"keys"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Defaults 返回默认配置
func Defaults() Config {
	return Config{
		Experiment: ExperimentConfig{Name: "House_Price_Prediction"},
		Tracking: TrackingConfig{
			Backend: "mlflow",
			URI:     "http://localhost:5000",
			Timeout: 10 * time.Second,
		},
		Artifacts: ArtifactsConfig{
			Backend: "file",
			Root:    "mlruns",
			Timeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "pricekit:",
		},
		Metrics: MetricsConfig{Keys: []string{"test_r2", "cv_r2_mean"}},
		Log:     LogConfig{Level: "info"},
		Server:  ServerConfig{Addr: ":8080"},
	}
}

// SetDefaults 把 Defaults 写入 viper
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("experiment.name", d.Experiment.Name)
	v.SetDefault("tracking.backend", d.Tracking.Backend)
	v.SetDefault("tracking.dsn", d.Tracking.DSN)
	v.SetDefault("tracking.uri", d.Tracking.URI)
	v.SetDefault("tracking.run_filter", d.Tracking.RunFilter)
	v.SetDefault("tracking.timeout", d.Tracking.Timeout)
	v.SetDefault("artifacts.backend", d.Artifacts.Backend)
	v.SetDefault("artifacts.root", d.Artifacts.Root)
	v.SetDefault("artifacts.timeout", d.Artifacts.Timeout)
	v.SetDefault("artifacts.cache_ttl", d.Artifacts.CacheTTL)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("schema.file", d.Schema.File)
	v.SetDefault("metrics.keys", d.Metrics.Keys)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("server.addr", d.Server.Addr)
}

// Load 读取配置：默认值 → 配置文件（path 非空时）→ PRICEKIT_* 环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode 从已配置好的 viper 实例解码并校验配置
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Experiment.Name == "" {
		errs = append(errs, errors.New("experiment.name is required"))
	}
	if c.Tracking.Backend == "" {
		errs = append(errs, errors.New("tracking.backend is required"))
	}
	if c.Artifacts.Backend == "" {
		errs = append(errs, errors.New("artifacts.backend is required"))
	}
	if c.Tracking.Timeout < 0 || c.Artifacts.Timeout < 0 || c.Artifacts.CacheTTL < 0 {
		errs = append(errs, errors.New("timeouts and cache_ttl must not be negative"))
	}
	if len(c.Metrics.Keys) == 0 {
		errs = append(errs, errors.New("metrics.keys must not be empty"))
	}
	return errors.Join(errs...)
}
