package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Images   ImagesConfig   `yaml:"images"`
	Render   RenderConfig   `yaml:"render"`
	Research ResearchConfig `yaml:"research"`
	Upload   UploadConfig   `yaml:"upload"`
}

type BackendConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKeys []string `yaml:"api_keys"`
}

type SessionConfig struct {
	File           string `yaml:"file"`
	FreshnessHours int    `yaml:"freshness_hours"`
	IDPrefix       string `yaml:"id_prefix"`
	Mirror         bool   `yaml:"mirror"`
}

type PipelineConfig struct {
	Tool        string `yaml:"tool"`
	Style       string `yaml:"style"`
	Ratio       string `yaml:"ratio"`
	Provider    string `yaml:"provider"`
	Voice       string `yaml:"voice"`
	DurationMin int    `yaml:"duration_min"`
	Thumbnail   bool   `yaml:"thumbnail"`
}

type ImagesConfig struct {
	BatchSize     int     `yaml:"batch_size"`
	BatchDelaySec float64 `yaml:"batch_delay_sec"`
}

type RenderConfig struct {
	PollIntervalSec float64 `yaml:"poll_interval_sec"`
	MaxPolls        int     `yaml:"max_polls"`
}

type ResearchConfig struct {
	Subreddits []string `yaml:"subreddits"`
	MinScore   int      `yaml:"min_score"`
	MaxPosts   int      `yaml:"max_posts"`
	Window     string   `yaml:"window"`
}

type UploadConfig struct {
	Direct            bool   `yaml:"direct"`
	Visibility        string `yaml:"visibility"`
	CategoryID        string `yaml:"category_id"`
	DefaultLanguage   string `yaml:"default_language"`
	NotifySubscribers bool   `yaml:"notify_subscribers"`
	MadeForKids       bool   `yaml:"made_for_kids"`
	ScheduleTimeUTC   string `yaml:"schedule_time_utc"`
}

// envOverrides are secrets and deploy-specific values that must not live in
// config.yaml. They win over the file when set.
type envOverrides struct {
	BackendURL string   `env:"LAB_BACKEND_URL"`
	APIKeys    []string `env:"LAB_API_KEYS" envSeparator:","`
	RedisURL   string   `env:"REDIS_URL"`
}

// Load reads config.yaml, applies defaults, then env overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}
	if ov.BackendURL != "" {
		cfg.Backend.BaseURL = ov.BackendURL
	}
	if len(ov.APIKeys) > 0 {
		cfg.Backend.APIKeys = ov.APIKeys
	}
	return &cfg, nil
}

// RedisURL comes from env only; empty disables the session mirror even when
// session.mirror is true.
func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

func (c *Config) applyDefaults() {
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:3000"
	}
	if c.Session.File == "" {
		c.Session.File = "session.json"
	}
	if c.Session.FreshnessHours <= 0 {
		c.Session.FreshnessHours = 24
	}
	if c.Session.IDPrefix == "" {
		c.Session.IDPrefix = "drama_"
	}
	if c.Pipeline.Tool == "" {
		c.Pipeline.Tool = "drama"
	}
	if c.Pipeline.Ratio == "" {
		c.Pipeline.Ratio = "16:9"
	}
	if c.Pipeline.DurationMin <= 0 {
		c.Pipeline.DurationMin = 5
	}
	if c.Images.BatchSize <= 0 {
		c.Images.BatchSize = 2
	}
	if c.Images.BatchDelaySec <= 0 {
		c.Images.BatchDelaySec = 1
	}
	if c.Render.PollIntervalSec <= 0 {
		c.Render.PollIntervalSec = 2
	}
	if c.Render.MaxPolls <= 0 {
		c.Render.MaxPolls = 600
	}
	if c.Research.MaxPosts <= 0 {
		c.Research.MaxPosts = 25
	}
	if c.Research.Window == "" {
		c.Research.Window = "week"
	}
	if c.Upload.Visibility == "" {
		c.Upload.Visibility = "private"
	}
	if c.Upload.CategoryID == "" {
		c.Upload.CategoryID = "24" // Entertainment
	}
	if c.Upload.DefaultLanguage == "" {
		c.Upload.DefaultLanguage = "ko"
	}
}

// FreshnessWindow is the max age of a persisted session still eligible for restore.
func (c *Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Session.FreshnessHours) * time.Hour
}

// BatchDelay is the pause between image/TTS fan-out batches.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Images.BatchDelaySec * float64(time.Second))
}

// PollInterval is the delay between render job status polls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Render.PollIntervalSec * float64(time.Second))
}
