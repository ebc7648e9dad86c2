package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadFromEnv.
const EnvPrefix = "XDIGEST_"

// Config holds all configuration options for the digest service
type Config struct {
	Apify        ApifyConfig        `yaml:"apify" json:"apify"`
	Store        StoreConfig        `yaml:"store" json:"store"`
	Redis        RedisConfig        `yaml:"redis" json:"redis"`
	Quota        QuotaConfig        `yaml:"quota" json:"quota"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Digest       DigestConfig       `yaml:"digest" json:"digest"`
	Sink         SinkConfig         `yaml:"sink" json:"sink"`
	Events       EventsConfig       `yaml:"events" json:"events"`
	Server       ServerConfig       `yaml:"server" json:"server"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

// ApifyConfig holds scraping provider settings
type ApifyConfig struct {
	// Token is normally resolved through the credential store and left empty here
	Token          string        `yaml:"token,omitempty" json:"-"`
	BaseURL        string        `yaml:"base_url" json:"base_url"`
	FollowingActor string        `yaml:"following_actor" json:"following_actor"`
	PostsActor     string        `yaml:"posts_actor" json:"posts_actor"`
	WaitForFinish  time.Duration `yaml:"wait_for_finish" json:"wait_for_finish"`
	RunTimeout     time.Duration `yaml:"run_timeout" json:"run_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	RequestsPerSec float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst          int           `yaml:"burst" json:"burst"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// StoreConfig selects the relational backend
type StoreConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	// ArchivePosts keeps filtered posts in the posts table after each run
	ArchivePosts bool `yaml:"archive_posts" json:"archive_posts"`
}

// RedisConfig enables the shared request counter when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db"`
}

// QuotaConfig holds the per-user daily admission threshold
type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit" json:"daily_limit"`
	Backend    string `yaml:"backend" json:"backend"`
}

// OrchestratorConfig holds fan-out limits
type OrchestratorConfig struct {
	MaxFollowings int           `yaml:"max_followings" json:"max_followings"`
	MaxPosts      int           `yaml:"max_posts" json:"max_posts"`
	Concurrency   int           `yaml:"concurrency" json:"concurrency"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// DigestConfig holds artifact settings
type DigestConfig struct {
	Directory string        `yaml:"directory" json:"directory"`
	MaxAge    time.Duration `yaml:"max_age" json:"max_age"`
}

// SinkConfig selects where digests are delivered
type SinkConfig struct {
	Type        string `yaml:"type" json:"type"`
	TelegramAPI string `yaml:"telegram_api" json:"telegram_api"`
}

// EventsConfig enables run-completed events when Brokers is non-empty
type EventsConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Apify: ApifyConfig{
			BaseURL:        "https://api.apify.com",
			FollowingActor: "apidojo/twitter-user-scraper",
			PostsActor:     "apidojo/twitter-scraper-lite",
			WaitForFinish:  60 * time.Second,
			RunTimeout:     10 * time.Minute,
			RequestTimeout: 90 * time.Second,
			RequestsPerSec: 5,
			Burst:          15,
			MaxRetries:     3,
			RetryDelay:     2 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "xdigest.db",
		},
		Quota: QuotaConfig{
			DailyLimit: 10,
			Backend:    "store",
		},
		Orchestrator: OrchestratorConfig{
			MaxFollowings: 100,
			MaxPosts:      10,
			Concurrency:   15,
			FetchTimeout:  5 * time.Minute,
		},
		Digest: DigestConfig{
			Directory: os.TempDir(),
			MaxAge:    24 * time.Hour,
		},
		Sink: SinkConfig{
			Type:        "log",
			TelegramAPI: "https://api.telegram.org",
		},
		Events: EventsConfig{
			Topic: "xdigest.runs",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if v := getenv("APIFY_TOKEN"); v != "" {
		c.Apify.Token = v
	}
	if v := getenv("APIFY_BASE_URL"); v != "" {
		c.Apify.BaseURL = v
	}
	if v := getenv("STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := getenv("STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := getenv("ARCHIVE_POSTS"); v != "" {
		c.Store.ArchivePosts = strings.ToLower(v) == "true"
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("QUOTA_BACKEND"); v != "" {
		c.Quota.Backend = v
	}
	if v := getenv("DIGEST_DIR"); v != "" {
		c.Digest.Directory = v
	}
	if v := getenv("SINK"); v != "" {
		c.Sink.Type = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Events.Topic = v
	}
	if v := getenv("SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	for name, dst := range map[string]*int{
		"DAILY_LIMIT":    &c.Quota.DailyLimit,
		"MAX_FOLLOWINGS": &c.Orchestrator.MaxFollowings,
		"MAX_POSTS":      &c.Orchestrator.MaxPosts,
		"CONCURRENCY":    &c.Orchestrator.Concurrency,
		"REDIS_DB":       &c.Redis.DB,
	} {
		v := getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*dst = n
	}

	if v := getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sFETCH_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.Orchestrator.FetchTimeout = d
		}
	}

	return errors.Join(errs...)
}

func getenv(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".xdigest.yaml",
		".xdigest.yml",
		filepath.Join(home, ".config", "xdigest", "config.yaml"),
		filepath.Join(home, ".config", "xdigest", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// DefaultPath is where `config init` writes a fresh file.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".config", "xdigest", "config.yaml")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Apify.BaseURL == "" {
		errs = append(errs, errors.New("apify base url is required"))
	}
	if c.Apify.FollowingActor == "" || c.Apify.PostsActor == "" {
		errs = append(errs, errors.New("apify actor ids are required"))
	}
	if c.Apify.RequestsPerSec <= 0 {
		errs = append(errs, errors.New("apify requests per second must be positive"))
	}
	if c.Apify.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported store driver %q", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store dsn is required"))
	}

	switch c.Quota.Backend {
	case "store":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis quota backend requires redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported quota backend %q", c.Quota.Backend))
	}
	if c.Quota.DailyLimit < 0 {
		errs = append(errs, errors.New("daily limit cannot be negative"))
	}

	if c.Orchestrator.MaxFollowings <= 0 {
		errs = append(errs, errors.New("max followings must be positive"))
	}
	if c.Orchestrator.MaxPosts <= 0 {
		errs = append(errs, errors.New("max posts must be positive"))
	}
	if c.Orchestrator.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.Orchestrator.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch timeout cannot be negative"))
	}

	if c.Digest.Directory == "" {
		errs = append(errs, errors.New("digest directory is required"))
	}

	switch c.Sink.Type {
	case "log", "discord", "telegram":
	default:
		errs = append(errs, fmt.Errorf("invalid sink type %q", c.Sink.Type))
	}

	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		errs = append(errs, errors.New("events topic is required when brokers are set"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		errs = append(errs, errors.New("log format must be console or json"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["store-driver"].(string); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := flags["store-dsn"].(string); ok && v != "" {
		c.Store.DSN = v
	}
	if v, ok := flags["digest-dir"].(string); ok && v != "" {
		c.Digest.Directory = v
	}
	if v, ok := flags["sink"].(string); ok && v != "" {
		c.Sink.Type = v
	}
	if v, ok := flags["max-followings"].(int); ok && v > 0 {
		c.Orchestrator.MaxFollowings = v
	}
	if v, ok := flags["max-posts"].(int); ok && v > 0 {
		c.Orchestrator.MaxPosts = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Orchestrator.Concurrency = v
	}
	if v, ok := flags["addr"].(string); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".xdigest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
