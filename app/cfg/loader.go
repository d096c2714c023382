package cfg

import (
	"cmp"
	"fmt"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Feed sources
	FeedsDir     string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing one <category>.yml file per feed"`
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"Mozilla/5.0 (trafficwatch logger)" description:"User agent string for HTTP requests"`
	FetchRetries int    `long:"fetch-retries" env:"FETCH_RETRIES" default:"2" description:"Retries per feed after a failed fetch"`
	OnFetchError string `long:"on-fetch-error" env:"ON_FETCH_ERROR" default:"abort" choice:"abort" choice:"skip" description:"What to do when a feed still fails after retries"`

	// History storage
	DataDir  string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Directory holding the history files"`
	JSONFile string `long:"json-file" env:"JSON_FILE" default:"trafficwatch.json" description:"Structured history file name (relative to data dir)"`
	CSVFile  string `long:"csv-file" env:"CSV_FILE" default:"trafficwatch.csv" description:"Tabular history file name (relative to data dir)"`
	DBPath   string `long:"db-path" env:"DB_PATH" description:"Optional SQLite ledger path"`
	RSSPath  string `long:"rss-path" env:"RSS_PATH" description:"Optional RSS file listing active items"`

	// Scheduling and locking
	Schedule string `long:"schedule" env:"SCHEDULE" description:"Cron spec for repeated runs (empty runs once and exits)"`
	RedisURL string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the single-run lock (optional)"`
	LockTTL  int    `long:"lock-ttl" env:"LOCK_TTL" default:"600" description:"Run lock expiry in seconds"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for display dates (e.g., UTC, Europe/London)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses command-line arguments and environment variables. It returns
// nil, nil when help was requested.
func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs is Load with explicit arguments; nil means os.Args.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.FetchRetries < 0 {
		return nil, fmt.Errorf("fetch retries must be non-negative")
	}
	if raw.LockTTL <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	loc, err := time.LoadLocation(raw.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", raw.Timezone, err)
	}

	cfg := &Cfg{
		FeedsDir:     raw.FeedsDir,
		UserAgent:    raw.UserAgent,
		FetchRetries: raw.FetchRetries,
		OnFetchError: FetchErrorPolicy(raw.OnFetchError),
		DataDir:      raw.DataDir,
		JSONPath:     resolve(raw.DataDir, raw.JSONFile),
		CSVPath:      resolve(raw.DataDir, raw.CSVFile),
		DBPath:       raw.DBPath,
		RSSPath:      raw.RSSPath,
		Schedule:     raw.Schedule,
		RedisURL:     raw.RedisURL,
		LockTTL:      time.Duration(raw.LockTTL) * time.Second,
		Timezone:     raw.Timezone,
		Location:     loc,
		Debug:        raw.Debug,
		Version:      GetVersion(),
	}

	return cfg, nil
}

func resolve(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
