package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the assessment service.
type Config struct {
	AppName   string
	AppEnv    string
	AppPort   string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string
	RedisPrefix string
	NATSURL     string
	NATSSubject string

	JWTSecret string

	AIProvider        string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	EvaluationTimeout time.Duration
	StoreTimeout      time.Duration
	ShutdownTimeout   time.Duration

	SessionIdleTTL     time.Duration
	SessionJanitorTick time.Duration
	SnapshotTTL        time.Duration

	SeedEnabled bool
	SeedToken   string

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// UsesOpenAI reports whether answers are marked by the OpenAI provider.
func (c Config) UsesOpenAI() bool {
	return c.AIProvider == "openai" && c.OpenAIAPIKey != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Assessment API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("redis.prefix", "gema:assessment")
	v.SetDefault("nats.subject", "gema.assessment.results")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("evaluation.timeout", "20s")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("shutdown.timeout", "30s")
	v.SetDefault("session.idle_ttl", "2h")
	v.SetDefault("session.janitor_interval", "1m")
	v.SetDefault("session.snapshot_ttl", "30m")
	v.SetDefault("seed.enabled", false)
	v.SetDefault("rate_limit.max", 120)
	v.SetDefault("rate_limit.window", "1m")

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		LogLevel:    v.GetString("log.level"),
		LogFormat:   v.GetString("log.format"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		RedisPrefix: v.GetString("redis.prefix"),
		NATSURL:     v.GetString("nats.url"),
		NATSSubject: v.GetString("nats.subject"),
		JWTSecret:   v.GetString("jwt.secret"),

		AIProvider:    strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:  v.GetString("openai_api_key"),
		OpenAIBaseURL: v.GetString("openai.base_url"),
		OpenAIModel:   v.GetString("openai.model"),

		SeedEnabled:  v.GetBool("seed.enabled"),
		SeedToken:    v.GetString("seed.token"),
		RateLimitMax: v.GetInt("rate_limit.max"),
	}

	durations["evaluation.timeout"] = &cfg.EvaluationTimeout
	durations["store.timeout"] = &cfg.StoreTimeout
	durations["shutdown.timeout"] = &cfg.ShutdownTimeout
	durations["session.idle_ttl"] = &cfg.SessionIdleTTL
	durations["session.janitor_interval"] = &cfg.SessionJanitorTick
	durations["session.snapshot_ttl"] = &cfg.SnapshotTTL
	durations["rate_limit.window"] = &cfg.RateLimitWindow

	for key, target := range durations {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		*target = d
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.SeedEnabled && cfg.SeedToken == "" {
		return Config{}, fmt.Errorf("seed token must be provided when seeding is enabled")
	}

	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 120
	}

	return cfg, nil
}
