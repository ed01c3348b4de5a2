package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvSpec is the process configuration, read from the environment (and .env when present).
type EnvSpec struct {
	Port          string `envconfig:"port" default:"18911"`
	DatabaseURL   string `envconfig:"database_url"`
	MigrationsURL string `envconfig:"migrations_url" default:"file://db/migrations"`
	RedisURL      string `envconfig:"redis_url"`
	LogMode       string `envconfig:"log_mode" default:"dev"`

	InternalWSSecret string `envconfig:"internal_ws_secret"`

	OpenAIBaseURL string  `envconfig:"openai_base_url" default:"https://api.openai.com/v1"`
	OpenAIAPIKey  string  `envconfig:"openai_api_key"`
	OpenAIModel   string  `envconfig:"openai_model" default:"gpt-4o"`
	LLMRPS        float64 `envconfig:"llm_rps" default:"2"`

	JinaBaseURL string `envconfig:"jina_base_url" default:"https://r.jina.ai"`
	JinaAPIKey  string `envconfig:"jina_api_key"`

	PollinationsBaseURL string `envconfig:"pollinations_base_url" default:"https://image.pollinations.ai"`
	PollinationsProbe   bool   `envconfig:"pollinations_probe" default:"false"`

	MetaGraphURL  string `envconfig:"meta_graph_url" default:"https://graph.facebook.com/v18.0"`
	MetaAppID     string `envconfig:"meta_app_id"`
	MetaAppSecret string `envconfig:"meta_app_secret"`

	PublicURL string `envconfig:"public_url" default:"http://localhost:18911"`
	SiteURL   string `envconfig:"site_url" default:"http://localhost:5173"`

	PublisherEnabled    bool   `envconfig:"publisher_enabled" default:"true"`
	PublisherSchedule   string `envconfig:"publisher_schedule" default:"@every 1m"`
	// PublisherBatchLimit is the sweep's page size; every due post is still handled in one sweep.
	PublisherBatchLimit int    `envconfig:"publisher_batch_limit" default:"50"`

	StaleGeneratingAfter time.Duration `envconfig:"stale_generating_after" default:"15m"`
	ReaperSchedule       string        `envconfig:"reaper_schedule" default:"@every 5m"`

	ScrapeTimeout     time.Duration `envconfig:"scrape_timeout" default:"30s"`
	LLMTimeout        time.Duration `envconfig:"llm_timeout" default:"90s"`
	ImageTimeout      time.Duration `envconfig:"image_timeout" default:"60s"`
	PublishTimeout    time.Duration `envconfig:"publish_timeout" default:"30s"`
	StageWriteTimeout time.Duration `envconfig:"stage_write_timeout" default:"10s"`
}

// Load reads .env (if any) and then the environment.
func Load() (*EnvSpec, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*EnvSpec, error) {
	spec := new(EnvSpec)
	if err := envconfig.Process("", spec); err != nil {
		return nil, fmt.Errorf("issues with environment sourcing: %w", err)
	}
	spec.Port = strings.TrimSpace(spec.Port)
	if spec.Port == "" {
		spec.Port = "18911"
	}
	return spec, nil
}

// RequireDatabase returns an error when DATABASE_URL is missing.
func (s *EnvSpec) RequireDatabase() error {
	if strings.TrimSpace(s.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return nil
}
