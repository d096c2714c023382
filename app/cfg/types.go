package cfg

import "time"

// FetchErrorPolicy decides what a run does when a feed cannot be fetched
// after all retries.
type FetchErrorPolicy string

const (
	// FetchErrorAbort fails the whole run and writes nothing.
	FetchErrorAbort FetchErrorPolicy = "abort"
	// FetchErrorSkip leaves the failed category's records untouched and
	// reconciles the rest.
	FetchErrorSkip FetchErrorPolicy = "skip"
)

type Cfg struct {
	// Feed sources
	FeedsDir     string
	UserAgent    string
	FetchRetries int
	OnFetchError FetchErrorPolicy

	// History storage
	DataDir  string
	JSONPath string
	CSVPath  string
	DBPath   string
	RSSPath  string

	// Scheduling and locking
	Schedule string
	RedisURL string
	LockTTL  time.Duration

	// Application metadata
	Timezone string
	Location *time.Location
	Debug    bool
	Version  string
}
