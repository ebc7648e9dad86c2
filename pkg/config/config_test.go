package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Orchestrator.MaxFollowings != 100 {
		t.Errorf("Expected default max followings to be 100, got %d", config.Orchestrator.MaxFollowings)
	}
	if config.Orchestrator.MaxPosts != 10 {
		t.Errorf("Expected default max posts to be 10, got %d", config.Orchestrator.MaxPosts)
	}
	if config.Orchestrator.Concurrency != 15 {
		t.Errorf("Expected default concurrency to be 15, got %d", config.Orchestrator.Concurrency)
	}
	if config.Quota.DailyLimit != 10 {
		t.Errorf("Expected default daily limit to be 10, got %d", config.Quota.DailyLimit)
	}
	if config.Store.Driver != "sqlite" {
		t.Errorf("Expected default store driver to be sqlite, got %s", config.Store.Driver)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("XDIGEST_APIFY_TOKEN", "apify_api_test")
	t.Setenv("XDIGEST_STORE_DRIVER", "postgres")
	t.Setenv("XDIGEST_STORE_DSN", "postgres://x@localhost/xdigest")
	t.Setenv("XDIGEST_DAILY_LIMIT", "3")
	t.Setenv("XDIGEST_CONCURRENCY", "4")
	t.Setenv("XDIGEST_FETCH_TIMEOUT", "45s")
	t.Setenv("XDIGEST_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("XDIGEST_ARCHIVE_POSTS", "true")
	t.Setenv("XDIGEST_LOG_LEVEL", "debug")

	config := DefaultConfig()
	if err := config.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load from environment: %v", err)
	}

	if config.Apify.Token != "apify_api_test" {
		t.Errorf("Expected apify token from env, got %s", config.Apify.Token)
	}
	if config.Store.Driver != "postgres" {
		t.Errorf("Expected postgres driver, got %s", config.Store.Driver)
	}
	if config.Quota.DailyLimit != 3 {
		t.Errorf("Expected daily limit 3, got %d", config.Quota.DailyLimit)
	}
	if config.Orchestrator.Concurrency != 4 {
		t.Errorf("Expected concurrency 4, got %d", config.Orchestrator.Concurrency)
	}
	if config.Orchestrator.FetchTimeout != 45*time.Second {
		t.Errorf("Expected fetch timeout 45s, got %v", config.Orchestrator.FetchTimeout)
	}
	if len(config.Events.Brokers) != 2 {
		t.Errorf("Expected 2 brokers, got %v", config.Events.Brokers)
	}
	if !config.Store.ArchivePosts {
		t.Error("Expected archive posts to be enabled")
	}
	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", config.Logging.Level)
	}
}

func TestLoadFromEnvInvalidNumber(t *testing.T) {
	t.Setenv("XDIGEST_MAX_POSTS", "ten")

	config := DefaultConfig()
	err := config.LoadFromEnv()
	if err == nil {
		t.Fatal("Expected error for non-numeric XDIGEST_MAX_POSTS")
	}
	if !strings.Contains(err.Error(), "XDIGEST_MAX_POSTS") {
		t.Errorf("Expected error to name the variable, got %v", err)
	}
	if config.Orchestrator.MaxPosts != 10 {
		t.Errorf("Expected max posts to keep its default, got %d", config.Orchestrator.MaxPosts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantError string
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:      "unknown store driver",
			modify:    func(c *Config) { c.Store.Driver = "mysql" },
			wantError: "unsupported store driver",
		},
		{
			name:      "redis backend without address",
			modify:    func(c *Config) { c.Quota.Backend = "redis" },
			wantError: "requires redis.addr",
		},
		{
			name:      "zero concurrency",
			modify:    func(c *Config) { c.Orchestrator.Concurrency = 0 },
			wantError: "concurrency must be positive",
		},
		{
			name:      "zero max posts",
			modify:    func(c *Config) { c.Orchestrator.MaxPosts = 0 },
			wantError: "max posts must be positive",
		},
		{
			name:      "unknown sink",
			modify:    func(c *Config) { c.Sink.Type = "email" },
			wantError: "invalid sink type",
		},
		{
			name:      "brokers without topic",
			modify:    func(c *Config) { c.Events.Brokers = []string{"k:9092"}; c.Events.Topic = "" },
			wantError: "events topic is required",
		},
		{
			name:      "invalid log level",
			modify:    func(c *Config) { c.Logging.Level = "verbose" },
			wantError: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantError == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantError)
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantError)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	config := DefaultConfig()
	config.Orchestrator.MaxFollowings = 0
	config.Orchestrator.MaxPosts = 0

	err := config.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	if !strings.Contains(err.Error(), "max followings") || !strings.Contains(err.Error(), "max posts") {
		t.Errorf("Expected both errors to be reported, got %v", err)
	}
}

func TestLoadFromFileAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := DefaultConfig()
	original.Orchestrator.Concurrency = 7
	original.Digest.Directory = dir
	original.Events.Brokers = []string{"localhost:9092"}

	if err := original.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Expected saved file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected file mode 0600, got %v", info.Mode().Perm())
	}

	loaded := DefaultConfig()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if loaded.Orchestrator.Concurrency != 7 {
		t.Errorf("Expected concurrency 7, got %d", loaded.Orchestrator.Concurrency)
	}
	if loaded.Digest.Directory != dir {
		t.Errorf("Expected digest dir %s, got %s", dir, loaded.Digest.Directory)
	}
	if loaded.Orchestrator.FetchTimeout != 5*time.Minute {
		t.Errorf("Expected fetch timeout to round-trip, got %v", loaded.Orchestrator.FetchTimeout)
	}
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"concurrency": 3,
		"max-posts":   0,
		"sink":        "telegram",
		"digest-dir":  "/var/tmp",
	})

	if config.Orchestrator.Concurrency != 3 {
		t.Errorf("Expected concurrency 3, got %d", config.Orchestrator.Concurrency)
	}
	if config.Orchestrator.MaxPosts != 10 {
		t.Errorf("Expected zero flag to be ignored, got %d", config.Orchestrator.MaxPosts)
	}
	if config.Sink.Type != "telegram" {
		t.Errorf("Expected sink telegram, got %s", config.Sink.Type)
	}
	if config.Digest.Directory != "/var/tmp" {
		t.Errorf("Expected digest dir /var/tmp, got %s", config.Digest.Directory)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "orchestrator:\n  concurrency: 6\n  max_posts: 4\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDIGEST_CONCURRENCY", "8")

	config, err := Load(path, map[string]interface{}{"max-posts": 2})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Orchestrator.Concurrency != 8 {
		t.Errorf("Expected env to override file, got %d", config.Orchestrator.Concurrency)
	}
	if config.Orchestrator.MaxPosts != 2 {
		t.Errorf("Expected flag to override file, got %d", config.Orchestrator.MaxPosts)
	}
}
