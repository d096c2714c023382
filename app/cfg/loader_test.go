package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		// This is fine, version could be set at build time
		t.Logf("Version: %s", version)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FEEDS_DIR", "USER_AGENT", "FETCH_RETRIES", "ON_FETCH_ERROR",
		"DATA_DIR", "JSON_FILE", "CSV_FILE", "DB_PATH", "RSS_PATH",
		"SCHEDULE", "REDIS_URL", "LOCK_TTL", "DEBUG",
	} {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
	t.Setenv("TZ", "UTC")
}

func TestLoadArgsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadArgs([]string{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.FeedsDir != "./feeds" {
		t.Errorf("Expected feeds dir './feeds', got '%s'", cfg.FeedsDir)
	}
	if cfg.FetchRetries != 2 {
		t.Errorf("Expected 2 fetch retries, got %d", cfg.FetchRetries)
	}
	if cfg.OnFetchError != FetchErrorAbort {
		t.Errorf("Expected abort policy, got '%s'", cfg.OnFetchError)
	}
	if cfg.JSONPath != filepath.Join("data", "trafficwatch.json") {
		t.Errorf("Expected JSON path 'data/trafficwatch.json', got '%s'", cfg.JSONPath)
	}
	if cfg.CSVPath != filepath.Join("data", "trafficwatch.csv") {
		t.Errorf("Expected CSV path 'data/trafficwatch.csv', got '%s'", cfg.CSVPath)
	}
	if cfg.LockTTL != 10*time.Minute {
		t.Errorf("Expected lock ttl 10m, got %v", cfg.LockTTL)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Expected UTC location, got %v", cfg.Location)
	}
	if cfg.Schedule != "" || cfg.RedisURL != "" || cfg.DBPath != "" {
		t.Error("Expected optional features to be disabled by default")
	}
}

func TestLoadArgsOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	abs := filepath.Join(t.TempDir(), "ledger.csv")
	cfg, err := LoadArgs([]string{
		"--data-dir", "/var/lib/trafficwatch",
		"--csv-file", abs,
		"--on-fetch-error", "skip",
		"--fetch-retries", "0",
		"--timezone", "Europe/London",
		"--schedule", "*/15 * * * *",
		"--debug",
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if cfg.JSONPath != "/var/lib/trafficwatch/trafficwatch.json" {
		t.Errorf("Expected JSON path under data dir, got '%s'", cfg.JSONPath)
	}
	if cfg.CSVPath != abs {
		t.Errorf("Expected absolute CSV path to be kept, got '%s'", cfg.CSVPath)
	}
	if cfg.OnFetchError != FetchErrorSkip {
		t.Errorf("Expected skip policy, got '%s'", cfg.OnFetchError)
	}
	if cfg.FetchRetries != 0 {
		t.Errorf("Expected 0 fetch retries, got %d", cfg.FetchRetries)
	}
	if cfg.Location.String() != "Europe/London" {
		t.Errorf("Expected Europe/London, got %s", cfg.Location)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Expected redis URL from env, got '%s'", cfg.RedisURL)
	}
	if !cfg.Debug {
		t.Error("Expected debug to be enabled")
	}
}

func TestLoadArgsReturnsIndependentConfigs(t *testing.T) {
	clearEnv(t)

	first, err := LoadArgs([]string{"--fetch-retries", "1"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	second, err := LoadArgs([]string{"--fetch-retries", "5"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if first == second {
		t.Fatal("Expected each load to return its own configuration")
	}
	if first.FetchRetries != 1 {
		t.Errorf("Expected earlier configuration to keep 1 retry, got %d", first.FetchRetries)
	}
}

func TestLoadArgsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown policy", []string{"--on-fetch-error", "ignore"}},
		{"negative retries", []string{"--fetch-retries=-1"}},
		{"zero lock ttl", []string{"--lock-ttl", "0"}},
		{"bad timezone", []string{"--timezone", "Mars/Olympus_Mons"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := LoadArgs(tt.args); err == nil {
				t.Errorf("Expected error for %v", tt.args)
			}
		})
	}
}
