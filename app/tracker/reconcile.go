// Package tracker merges each run's fetched items into the persistent history
// and maintains the lifecycle of every tracked item.
//
// A record moves through three states across runs:
//
//	new      created the first run its key is seen (seen_count = 1)
//	active   seen this run (last_seen refreshed, seen_count + 1, ended_at cleared)
//	ended    absent this run; ended_at is stamped once and kept until the key reappears
//
// Records are never removed.
package tracker

import (
	"time"

	"github.com/lysyi3m/trafficwatch/app/feed"
	"github.com/lysyi3m/trafficwatch/app/history"
)

// Summary counts what a reconciliation did.
type Summary struct {
	New        int // keys seen for the first time
	Updated    int // active keys seen again
	Reappeared int // ended keys seen again
	Ended      int // keys that went absent this run
	StillEnded int // keys already ended and still absent
	Skipped    int // items without an identity
	Duplicates int // repeated keys within the batch
	Total      int // records in the resulting index
}

// Reconcile merges items into prior as of runAt. Every absent record may be
// marked ended.
func Reconcile(prior history.Index, items []feed.Item, runAt time.Time) (history.Index, Summary) {
	return ReconcileScoped(prior, items, runAt, nil)
}

// ReconcileScoped is Reconcile restricted to the given categories for the end
// marking step: records of other categories are neither ended nor touched
// unless they appear in items. A nil slice means every category.
//
// prior is not modified.
func ReconcileScoped(prior history.Index, items []feed.Item, runAt time.Time, categories []feed.Category) (history.Index, Summary) {
	idx := prior.Clone()
	now := history.NewTimestamp(runAt)

	var sum Summary
	seenThisRun := make(map[history.Key]struct{}, len(items))

	for _, item := range items {
		if !item.Identifiable() {
			sum.Skipped++
			continue
		}

		key := history.Key{Category: item.Category, Identity: item.Identity}
		if _, dup := seenThisRun[key]; dup {
			// Same key listed twice: take the later fields, count once.
			sum.Duplicates++
			idx[key] = withFields(idx[key], item)
			continue
		}
		seenThisRun[key] = struct{}{}

		rec, exists := idx[key]
		if !exists {
			idx[key] = withFields(history.Record{
				Category:  item.Category,
				Identity:  item.Identity,
				FirstSeen: now,
				LastSeen:  now,
				SeenCount: 1,
			}, item)
			sum.New++
			continue
		}

		if rec.Active() {
			sum.Updated++
		} else {
			sum.Reappeared++
		}
		if rec.FirstSeen.IsZero() {
			// Migrated records may carry no sighting time at all.
			rec.FirstSeen = now
		}
		rec.LastSeen = now
		rec.SeenCount++
		rec.EndedAt = history.Timestamp{}
		idx[key] = withFields(rec, item)
	}

	inScope := scopeFilter(categories)
	for key, rec := range idx {
		if _, seen := seenThisRun[key]; seen || !inScope(key.Category) {
			continue
		}
		if !rec.Active() {
			sum.StillEnded++
			continue
		}
		rec.EndedAt = now
		idx[key] = rec
		sum.Ended++
	}

	sum.Total = len(idx)
	return idx, sum
}

func withFields(rec history.Record, item feed.Item) history.Record {
	rec.Title = item.Title
	rec.PubDate = item.PubDate
	rec.Description = item.Description
	rec.Link = item.Link
	return rec
}

func scopeFilter(categories []feed.Category) func(feed.Category) bool {
	if categories == nil {
		return func(feed.Category) bool { return true }
	}
	allowed := make(map[feed.Category]struct{}, len(categories))
	for _, c := range categories {
		allowed[c] = struct{}{}
	}
	return func(c feed.Category) bool {
		_, ok := allowed[c]
		return ok
	}
}
