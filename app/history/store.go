package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNoHistory is returned by a Source whose backing store does not exist.
var ErrNoHistory = errors.New("no persisted history")

// Source loads a previously persisted history.
type Source interface {
	Name() string
	Load(ctx context.Context) (Index, error)
}

// Sink persists the full history.
type Sink interface {
	Name() string
	Save(ctx context.Context, records []Record) error
}

// Load returns the history of the first source that can be read. A missing or
// unreadable store falls through to the next source. When none can be read the
// run continues on an empty index.
func Load(ctx context.Context, sources ...Source) Index {
	corrupt := false
	for _, src := range sources {
		idx, err := src.Load(ctx)
		if errors.Is(err, ErrNoHistory) {
			slog.Debug("History source not present", "source", src.Name())
			continue
		}
		if err != nil {
			slog.Warn("History unreadable, trying next source", "source", src.Name(), "error", err)
			corrupt = true
			continue
		}

		slog.Info("History loaded", "source", src.Name(), "records", len(idx))
		return idx
	}

	if corrupt {
		slog.Warn("No readable history, starting from an empty ledger")
	} else {
		slog.Info("No persisted history found, starting first run")
	}
	return make(Index)
}

// Save writes records to every sink, stopping at the first failure.
func Save(ctx context.Context, records []Record, sinks ...Sink) error {
	for _, sink := range sinks {
		if err := sink.Save(ctx, records); err != nil {
			return fmt.Errorf("failed to save history to %s: %w", sink.Name(), err)
		}
		slog.Debug("History saved", "sink", sink.Name(), "records", len(records))
	}
	return nil
}

// writeFileAtomic replaces path with the output of write, never leaving a
// partially written file behind.
func writeFileAtomic(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// readFile reads path, mapping a missing file to ErrNoHistory.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
