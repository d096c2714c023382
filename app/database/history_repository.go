package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/trafficwatch/app/feed"
	"github.com/lysyi3m/trafficwatch/app/history"
)

var (
	_ history.Source = (*HistoryRepository)(nil)
	_ history.Sink   = (*HistoryRepository)(nil)
)

// Run is one row of the run log.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Categories []feed.Category
	Fetched    int
	New        int
	Updated    int
	Reappeared int
	Ended      int
	Skipped    int
	Duplicates int
	Total      int
}

// HistoryRepository keeps the ledger in SQLite.
type HistoryRepository struct {
	db   *sql.DB
	path string
}

func NewHistoryRepository(db *sql.DB, path string) *HistoryRepository {
	return &HistoryRepository{db: db, path: path}
}

func (r *HistoryRepository) Name() string {
	return "sqlite:" + r.path
}

// Load returns every stored record; an empty table reports history.ErrNoHistory.
func (r *HistoryRepository) Load(ctx context.Context) (history.Index, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT feed_type, guid, title, pub_date, description, link,
		       first_seen_utc, last_seen_utc, seen_count, ended_at_utc
		FROM history_records
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history records: %w", err)
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		var rec history.Record
		var category, firstSeen, lastSeen, endedAt string
		err := rows.Scan(
			&category, &rec.Identity, &rec.Title, &rec.PubDate, &rec.Description, &rec.Link,
			&firstSeen, &lastSeen, &rec.SeenCount, &endedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		rec.Category = feed.Category(category)
		if rec.FirstSeen, err = history.ParseTimestamp(firstSeen); err != nil {
			return nil, fmt.Errorf("invalid first_seen for %s/%s: %w", category, rec.Identity, err)
		}
		if rec.LastSeen, err = history.ParseTimestamp(lastSeen); err != nil {
			return nil, fmt.Errorf("invalid last_seen for %s/%s: %w", category, rec.Identity, err)
		}
		if rec.EndedAt, err = history.ParseTimestamp(endedAt); err != nil {
			return nil, fmt.Errorf("invalid ended_at for %s/%s: %w", category, rec.Identity, err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}

	if len(records) == 0 {
		return nil, history.ErrNoHistory
	}
	return history.NewIndex(records), nil
}

// Save upserts every record in a single transaction.
func (r *HistoryRepository) Save(ctx context.Context, records []history.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_records (
			feed_type, guid, title, pub_date, description, link,
			first_seen_utc, last_seen_utc, seen_count, ended_at_utc
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_type, guid) DO UPDATE SET
			title = excluded.title,
			pub_date = excluded.pub_date,
			description = excluded.description,
			link = excluded.link,
			first_seen_utc = excluded.first_seen_utc,
			last_seen_utc = excluded.last_seen_utc,
			seen_count = excluded.seen_count,
			ended_at_utc = excluded.ended_at_utc
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			string(rec.Category), rec.Identity, rec.Title, rec.PubDate, rec.Description, rec.Link,
			rec.FirstSeen.String(), rec.LastSeen.String(), rec.SeenCount, rec.EndedAt.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", rec.Category, rec.Identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}

// RecordRun appends one entry to the run log.
func (r *HistoryRepository) RecordRun(ctx context.Context, run Run) error {
	categories := make([]string, len(run.Categories))
	for i, c := range run.Categories {
		categories[i] = string(c)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, finished_at, categories, fetched,
			new_items, updated, reappeared, ended, skipped, duplicates, total
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, history.NewTimestamp(run.StartedAt).String(), history.NewTimestamp(run.FinishedAt).String(),
		strings.Join(categories, ","), run.Fetched,
		run.New, run.Updated, run.Reappeared, run.Ended, run.Skipped, run.Duplicates, run.Total)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// GetRunCount returns the number of logged runs.
func (r *HistoryRepository) GetRunCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get run count: %w", err)
	}
	return count, nil
}
