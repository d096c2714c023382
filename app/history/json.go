package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// JSONFile is the structured, full-fidelity form of the history.
type JSONFile struct {
	path string
}

// jsonEntry also accepts the fetch time of files written before the ledger.
type jsonEntry struct {
	Record
	FetchedAt Timestamp `json:"fetched_at_utc"`
}

func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

func (j *JSONFile) Name() string {
	return "json:" + j.path
}

func (j *JSONFile) Load(ctx context.Context) (Index, error) {
	data, err := readFile(j.path)
	if err != nil {
		return nil, err
	}

	// An empty file is what a crashed legacy writer leaves behind.
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("history file %s is empty", j.path)
	}

	var entries []jsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode JSON history: %w", err)
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		adoptFetchedAt(&e.Record, e.FetchedAt)
		records[i] = e.Record
	}
	return NewIndex(records), nil
}

func (j *JSONFile) Save(ctx context.Context, records []Record) error {
	if records == nil {
		records = []Record{}
	}

	return writeFileAtomic(j.path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("failed to encode JSON history: %w", err)
		}
		return nil
	})
}
