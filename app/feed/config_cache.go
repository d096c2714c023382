package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultTimeout = 60 // seconds

type ConfigCache struct {
	feedsDir string
	cache    map[Category]*Config
	mu       sync.RWMutex
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		cache:    make(map[Category]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.feedsDir); os.IsNotExist(err) {
		return fmt.Errorf("feeds directory %s does not exist", cc.feedsDir)
	}

	files, err := filepath.Glob(filepath.Join(cc.feedsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		// Category is the filename without its .yml extension
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		category, err := ParseCategory(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		config, err := cc.LoadConfig(category)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "feed", category, "enabled", config.Settings.Enabled, "timeout", config.Settings.Timeout)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(category Category) (*Config, error) {
	configFile := cc.getConfigFilePath(category)
	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	feedConfig.Category = category

	if err := cc.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[feedConfig.Category] = feedConfig

	return feedConfig, nil
}

func (cc *ConfigCache) GetConfig(category Category) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[category]
	if !ok {
		return nil, fmt.Errorf("feed config for category '%s' not found", category)
	}
	return feedConfig, nil
}

// GetEnabledConfigs returns the enabled feeds in canonical category order.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make([]*Config, 0, len(cc.cache))
	for _, category := range Categories {
		if v, ok := cc.cache[category]; ok && v.Settings.Enabled {
			enabled = append(enabled, v)
		}
	}
	return enabled
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (c *Config) GetTimeout() time.Duration {
	if c.Settings.Timeout <= 0 {
		return defaultTimeout * time.Second
	}
	return time.Duration(c.Settings.Timeout) * time.Second
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	feedConfig := Config{
		Settings: ConfigSettings{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if feedConfig.Settings.Timeout == 0 {
		feedConfig.Settings.Timeout = defaultTimeout
	}

	return &feedConfig, nil
}

func (cc *ConfigCache) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	if feedConfig.URL == "" {
		return fmt.Errorf("feed URL is required")
	}
	if !strings.HasPrefix(feedConfig.URL, "http://") && !strings.HasPrefix(feedConfig.URL, "https://") {
		return fmt.Errorf("feed URL must be http or https: %s", feedConfig.URL)
	}

	if feedConfig.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(category Category) string {
	return filepath.Join(cc.feedsDir, string(category)+".yml")
}
