package history

import (
	"cmp"
	"maps"
	"slices"

	"github.com/lysyi3m/trafficwatch/app/feed"
)

// Key addresses one tracked entity across runs.
type Key struct {
	Category feed.Category
	Identity string
}

// Record is the persistent ledger entry for one Key.
type Record struct {
	Category    feed.Category `json:"feed_type"`
	Identity    string        `json:"guid"`
	Title       string        `json:"title"`
	PubDate     string        `json:"pub_date"`
	Description string        `json:"description"`
	Link        string        `json:"link"`

	FirstSeen Timestamp `json:"first_seen_utc"`
	LastSeen  Timestamp `json:"last_seen_utc"`
	SeenCount int       `json:"seen_count"`
	EndedAt   Timestamp `json:"ended_at_utc"`

	Display
}

// Display holds the derived date/time strings. They are recomputed by the
// Formatter on every run and never read back as authoritative.
type Display struct {
	FirstSeenDate string `json:"first_seen_date"`
	FirstSeenTime string `json:"first_seen_time"`
	LastSeenDate  string `json:"last_seen_date"`
	LastSeenTime  string `json:"last_seen_time"`
	EndedAtDate   string `json:"ended_at_date"`
	EndedAtTime   string `json:"ended_at_time"`
}

func (r Record) Key() Key {
	return Key{Category: r.Category, Identity: r.Identity}
}

func (r Record) Active() bool {
	return r.EndedAt.IsZero()
}

// legacyFetchedAt is the single timestamp column written by the fetch-only
// job that predates the ledger.
const legacyFetchedAt = "fetched_at_utc"

// adoptFetchedAt treats a legacy fetch time as the record's only sighting.
// Fields already present win.
func adoptFetchedAt(r *Record, fetchedAt Timestamp) {
	if fetchedAt.IsZero() {
		return
	}
	if r.FirstSeen.IsZero() {
		r.FirstSeen = fetchedAt
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = fetchedAt
	}
	if r.SeenCount == 0 {
		r.SeenCount = 1
	}
}

// Index maps every key to its record. Records are values, so Clone yields an
// independent copy.
type Index map[Key]Record

func NewIndex(records []Record) Index {
	idx := make(Index, len(records))
	for _, r := range records {
		if r.Identity == "" {
			continue
		}
		idx[r.Key()] = r
	}
	return idx
}

func (idx Index) Clone() Index {
	if idx == nil {
		return make(Index)
	}
	return maps.Clone(idx)
}

// Records returns the index contents ordered by category, first sighting and
// identity.
func (idx Index) Records() []Record {
	records := slices.Collect(maps.Values(idx))
	slices.SortFunc(records, compareRecords)
	return records
}

func compareRecords(a, b Record) int {
	return cmp.Or(
		cmp.Compare(a.Category.Rank(), b.Category.Rank()),
		cmp.Compare(a.Category, b.Category),
		a.FirstSeen.Compare(b.FirstSeen.Time),
		cmp.Compare(a.Identity, b.Identity),
	)
}
