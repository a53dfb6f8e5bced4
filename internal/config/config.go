package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SOULTALK"

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `mapstructure:"basic_config"`
	Store       string                    `mapstructure:"store"`
	Databases   map[string]DatabaseConfig `mapstructure:"databases"`
	Redis       RedisConfig               `mapstructure:"redis"`
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Reply       ReplyConfig               `mapstructure:"reply"`
	Emotion     EmotionConfig             `mapstructure:"emotion"`
	Audio       AudioConfig               `mapstructure:"audio"`
}

type BasicConfig struct {
	ServerAddress     string `mapstructure:"server_address"`
	LogLevel          string `mapstructure:"log_level"`
	MinWorkers        int    `mapstructure:"min_workers"`
	MaxWorkers        int    `mapstructure:"max_workers"`
	QueueSize         int    `mapstructure:"queue_size"`
	WorkerIdleTimeout int    `mapstructure:"worker_idle_timeout"` // seconds
	QueueWaitSeconds  int    `mapstructure:"queue_wait_seconds"`
	MaxUploadMB       int    `mapstructure:"max_upload_mb"`
}

// DatabaseConfig covers sqlite (DSN), mysql (host/port/...) and mongo (URI/DBName).
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	URI      string `mapstructure:"uri"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Params   string `mapstructure:"params"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// SessionTTL is the lifetime in minutes of cached pinned sessions.
	SessionTTL int `mapstructure:"session_ttl"`
}

type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

// ReplyConfig drives the reply generator and the prompt truncation policy.
type ReplyConfig struct {
	Provider        string  `mapstructure:"provider"`
	Model           string  `mapstructure:"model"`
	Temperature     float32 `mapstructure:"temperature"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxHistoryTurns int     `mapstructure:"max_history_turns"`
	MaxPromptChars  int     `mapstructure:"max_prompt_chars"`
}

type EmotionConfig struct {
	// TextClassifier is one of "llm", "lexicon" or "huggingface".
	TextClassifier string `mapstructure:"text_classifier"`
	TextProvider   string `mapstructure:"text_provider"`
	TextModel      string `mapstructure:"text_model"`
	HFEndpoint     string `mapstructure:"hf_endpoint"`
	HFToken        string `mapstructure:"hf_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type AudioConfig struct {
	ModelPath          string `mapstructure:"model_path"`
	SampleRate         int    `mapstructure:"sample_rate"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	WarmOnStart        bool   `mapstructure:"warm_on_start"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("basic_config.server_address", ":8090")
	v.SetDefault("basic_config.log_level", "info")
	v.SetDefault("basic_config.min_workers", 1)
	v.SetDefault("basic_config.max_workers", 4)
	v.SetDefault("basic_config.queue_size", 64)
	v.SetDefault("basic_config.worker_idle_timeout", 30)
	v.SetDefault("basic_config.queue_wait_seconds", 10)
	v.SetDefault("basic_config.max_upload_mb", 10)
	v.SetDefault("store", "sqlite3")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.session_ttl", 30)
	v.SetDefault("reply.provider", "openai")
	v.SetDefault("reply.model", "")
	v.SetDefault("reply.temperature", 0.6)
	v.SetDefault("reply.timeout_seconds", 30)
	v.SetDefault("reply.max_history_turns", 20)
	v.SetDefault("reply.max_prompt_chars", 12000)
	v.SetDefault("emotion.text_classifier", "llm")
	v.SetDefault("emotion.text_provider", "")
	v.SetDefault("emotion.text_model", "")
	v.SetDefault("emotion.hf_endpoint", "")
	v.SetDefault("emotion.hf_token", "")
	v.SetDefault("emotion.timeout_seconds", 15)
	v.SetDefault("audio.model_path", "models/emotion_audio_model.json")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.max_duration_seconds", 60)
}

// Load reads configuration from the provided path (defaults to config.json).
// Any scalar key can be overridden from the environment, e.g.
// SOULTALK_REPLY_MODEL or SOULTALK_BASIC_CONFIG_SERVER_ADDRESS.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(absPath)
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") {
		db.DSN = filepath.Join(baseDir, db.DSN)
		cfg.Databases["sqlite3"] = db
	}
	if cfg.Audio.ModelPath != "" && !filepath.IsAbs(cfg.Audio.ModelPath) {
		cfg.Audio.ModelPath = filepath.Join(baseDir, cfg.Audio.ModelPath)
	}

	if err := cfg.decryptProviderKeys(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case "sqlite", "sqlite3":
		c.Store = "sqlite3"
	case "mysql", "mongo":
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}
	if _, ok := c.Databases[c.Store]; !ok {
		return fmt.Errorf("databases.%s must be configured", c.Store)
	}
	if c.Reply.Temperature < 0 || c.Reply.Temperature > 2 {
		return errors.New("reply.temperature must be within [0, 2]")
	}
	if c.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if c.Audio.MaxDurationSeconds <= 0 {
		return errors.New("audio.max_duration_seconds must be positive")
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers
	}
	return nil
}

// Provider returns the named provider block.
func (c *Config) Provider(name string) (ProviderConfig, error) {
	p, ok := c.Providers[strings.ToLower(name)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("provider %s not configured", name)
	}
	return p, nil
}
