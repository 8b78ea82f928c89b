package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	OIDC      OIDCConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Pricing   PricingConfig
	Worker    WorkerConfig
	Poller    PollerConfig
	Channels  map[string]ChannelConfig
	Models    []ModelConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	APIDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver string // sqlite or postgres
	DSN    string
}

type JWTConfig struct {
	Secret string
}

type OIDCConfig struct {
	Issuer   string
	ClientID string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	GeneratePerHour int
}

// StorageConfig configures the S3-compatible bucket used to host reference
// images and offload inline results.
type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Endpoint        string
}

type PricingConfig struct {
	SoraVideo10s int64
	SoraVideo15s int64
	GeminiPro    int64
	GeminiNano   int64
}

type WorkerConfig struct {
	Concurrency   int
	RecoveryAfter time.Duration
	TaskTimeout   time.Duration
}

// PollerConfig is consumed by cmd/taskwatch.
type PollerConfig struct {
	BaseURL string
	Token   string
}

// ChannelType selects the adapter family for a channel
type ChannelType string

const (
	ChannelSora       ChannelType = "sora"
	ChannelGemini     ChannelType = "gemini"
	ChannelOpenAI     ChannelType = "openai-compatible"
	ChannelOpenAIChat ChannelType = "openai-chat"
	ChannelModelScope ChannelType = "modelscope"
	ChannelGitee      ChannelType = "gitee"
)

// ChannelConfig is one provider endpoint with its credentials.
// APIKeys may hold several comma-separated keys which are rotated.
type ChannelConfig struct {
	ID                string      `mapstructure:"id"`
	Type              ChannelType `mapstructure:"type"`
	BaseURL           string      `mapstructure:"base_url"`
	APIKeys           string      `mapstructure:"api_keys"`
	RequestsPerSecond float64     `mapstructure:"requests_per_second"`
	Enabled           bool        `mapstructure:"enabled"`
}

// Keys splits APIKeys into trimmed, non-empty entries.
func (c ChannelConfig) Keys() []string {
	var keys []string
	for _, k := range strings.Split(c.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ModelConfig is one entry of the model catalog a submission refers to.
// Resolutions maps an aspect ratio either to a size/model string or to a
// nested image-size map.
type ModelConfig struct {
	ID          string         `mapstructure:"id"`
	Name        string         `mapstructure:"name"`
	Channel     string         `mapstructure:"channel"`
	APIModel    string         `mapstructure:"api_model"`
	Kind        string         `mapstructure:"kind"`
	Cost        int64          `mapstructure:"cost"`
	Enabled     bool           `mapstructure:"enabled"`
	Resolutions map[string]any `mapstructure:"resolutions"`
}

// builtinChannels maps a channel id to its adapter family; each can be driven
// purely from environment variables.
var builtinChannels = map[string]ChannelType{
	"sora":       ChannelSora,
	"gemini":     ChannelGemini,
	"openai":     ChannelOpenAI,
	"openaichat": ChannelOpenAIChat,
	"modelscope": ChannelModelScope,
	"gitee":      ChannelGitee,
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_DSN")
	readSecret("JWT_SECRET")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	for id := range builtinChannels {
		readSecret(envPrefix(id) + "_API_KEY")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("oidc.issuer", "OIDC_ISSUER")
	_ = v.BindEnv("oidc.client_id", "OIDC_CLIENT_ID")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = v.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = v.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("pricing.sora_video_10s", "PRICING_SORA_VIDEO_10S")
	_ = v.BindEnv("pricing.sora_video_15s", "PRICING_SORA_VIDEO_15S")
	_ = v.BindEnv("pricing.gemini_pro", "PRICING_GEMINI_PRO")
	_ = v.BindEnv("pricing.gemini_nano", "PRICING_GEMINI_NANO")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.recovery_after", "WORKER_RECOVERY_AFTER")
	_ = v.BindEnv("worker.task_timeout", "WORKER_TASK_TIMEOUT")
	_ = v.BindEnv("poller.base_url", "TASKWATCH_BASE_URL")
	_ = v.BindEnv("poller.token", "TASKWATCH_TOKEN")
	for id := range builtinChannels {
		prefix := envPrefix(id)
		_ = v.BindEnv("channels."+id+".base_url", prefix+"_BASE_URL")
		_ = v.BindEnv("channels."+id+".api_keys", prefix+"_API_KEY")
		_ = v.BindEnv("channels."+id+".requests_per_second", prefix+"_RPS")
	}

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:mediagen.db?_pragma=busy_timeout(5000)")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.generate_per_hour", 60)
	v.SetDefault("pricing.sora_video_10s", 30)
	v.SetDefault("pricing.sora_video_15s", 45)
	v.SetDefault("pricing.gemini_pro", 10)
	v.SetDefault("pricing.gemini_nano", 5)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.recovery_after", 2*time.Minute)
	v.SetDefault("worker.task_timeout", 25*time.Minute)
	v.SetDefault("poller.base_url", "http://localhost:8000")
	v.SetDefault("channels.sora.base_url", "")
	v.SetDefault("channels.gemini.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("channels.modelscope.base_url", "https://api-inference.modelscope.cn/")
	v.SetDefault("channels.gitee.base_url", "https://ai.gitee.com/")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			APIDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		OIDC: OIDCConfig{
			Issuer:   v.GetString("oidc.issuer"),
			ClientID: v.GetString("oidc.client_id"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: v.GetInt("ratelimit.generate_per_hour"),
		},
		Storage: StorageConfig{
			AccountID:       v.GetString("storage.account_id"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			PublicURL:       v.GetString("storage.public_url"),
			Endpoint:        v.GetString("storage.endpoint"),
		},
		Pricing: PricingConfig{
			SoraVideo10s: v.GetInt64("pricing.sora_video_10s"),
			SoraVideo15s: v.GetInt64("pricing.sora_video_15s"),
			GeminiPro:    v.GetInt64("pricing.gemini_pro"),
			GeminiNano:   v.GetInt64("pricing.gemini_nano"),
		},
		Worker: WorkerConfig{
			Concurrency:   v.GetInt("worker.concurrency"),
			RecoveryAfter: v.GetDuration("worker.recovery_after"),
			TaskTimeout:   v.GetDuration("worker.task_timeout"),
		},
		Poller: PollerConfig{
			BaseURL: v.GetString("poller.base_url"),
			Token:   v.GetString("poller.token"),
		},
		Channels: loadChannels(v),
	}

	if err := v.UnmarshalKey("models", &cfg.Models); err != nil {
		return nil, fmt.Errorf("failed to decode model catalog: %w", err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}

	return cfg, nil
}

func loadChannels(v *viper.Viper) map[string]ChannelConfig {
	ids := make(map[string]struct{})
	for id := range builtinChannels {
		ids[id] = struct{}{}
	}
	for id := range v.GetStringMap("channels") {
		ids[id] = struct{}{}
	}

	channels := make(map[string]ChannelConfig, len(ids))
	for id := range ids {
		key := "channels." + id
		ch := ChannelConfig{
			ID:                id,
			Type:              ChannelType(v.GetString(key + ".type")),
			BaseURL:           v.GetString(key + ".base_url"),
			APIKeys:           v.GetString(key + ".api_keys"),
			RequestsPerSecond: v.GetFloat64(key + ".requests_per_second"),
			Enabled:           true,
		}
		if v.IsSet(key + ".enabled") {
			ch.Enabled = v.GetBool(key + ".enabled")
		}
		if ch.Type == "" {
			ch.Type = builtinChannels[id]
		}
		channels[id] = ch
	}
	return channels
}

// ChannelIDs returns the configured channel ids in stable order.
func (c *Config) ChannelIDs() []string {
	ids := make([]string, 0, len(c.Channels))
	for id := range c.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func envPrefix(channelID string) string {
	return strings.ToUpper(strings.ReplaceAll(channelID, "-", "_"))
}
