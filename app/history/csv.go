package history

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/lysyi3m/trafficwatch/app/feed"
)

// CSVSchemaVersion must be bumped whenever Columns changes order or content.
const CSVSchemaVersion = 1

// Column binds a tabular column to a record field.
type Column struct {
	Name string
	get  func(r Record) string
	set  func(r *Record, v string)
}

// Columns is the fixed tabular layout. Downstream consumers address columns
// by position, so the order is part of the file format.
var Columns = []Column{
	{"feed_type", func(r Record) string { return string(r.Category) }, func(r *Record, v string) { r.Category = feed.Category(v) }},
	{"guid", func(r Record) string { return r.Identity }, func(r *Record, v string) { r.Identity = v }},
	{"title", func(r Record) string { return r.Title }, func(r *Record, v string) { r.Title = v }},
	{"pub_date", func(r Record) string { return r.PubDate }, func(r *Record, v string) { r.PubDate = v }},
	{"description", func(r Record) string { return r.Description }, func(r *Record, v string) { r.Description = v }},
	{"link", func(r Record) string { return r.Link }, func(r *Record, v string) { r.Link = v }},
	{"first_seen_utc", func(r Record) string { return r.FirstSeen.String() }, func(r *Record, v string) { r.FirstSeen = parseCell(v) }},
	{"first_seen_date", func(r Record) string { return r.FirstSeenDate }, func(r *Record, v string) { r.FirstSeenDate = v }},
	{"first_seen_time", func(r Record) string { return r.FirstSeenTime }, func(r *Record, v string) { r.FirstSeenTime = v }},
	{"last_seen_utc", func(r Record) string { return r.LastSeen.String() }, func(r *Record, v string) { r.LastSeen = parseCell(v) }},
	{"last_seen_date", func(r Record) string { return r.LastSeenDate }, func(r *Record, v string) { r.LastSeenDate = v }},
	{"last_seen_time", func(r Record) string { return r.LastSeenTime }, func(r *Record, v string) { r.LastSeenTime = v }},
	{"seen_count", func(r Record) string { return strconv.Itoa(r.SeenCount) }, func(r *Record, v string) { r.SeenCount = ParseSeenCount(v) }},
	{"ended_at_utc", func(r Record) string { return r.EndedAt.String() }, func(r *Record, v string) { r.EndedAt = parseCell(v) }},
	{"ended_at_date", func(r Record) string { return r.EndedAtDate }, func(r *Record, v string) { r.EndedAtDate = v }},
	{"ended_at_time", func(r Record) string { return r.EndedAtTime }, func(r *Record, v string) { r.EndedAtTime = v }},
}

// ColumnNames returns the header row.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// ParseSeenCount coerces a tabular seen_count cell, yielding 0 for anything
// that is not a whole number.
func ParseSeenCount(v string) int {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	// Spreadsheet round trips turn integers into "3.0".
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int(f)
	}
	return 0
}

func parseCell(v string) Timestamp {
	ts, err := ParseTimestamp(v)
	if err != nil {
		slog.Debug("Ignoring unparsable timestamp cell", "value", v, "error", err)
		return Timestamp{}
	}
	return ts
}

// CSVFile is the flat tabular form of the history. As a Source it reads
// all-string legacy files; unknown columns are ignored and missing ones left
// empty.
type CSVFile struct {
	path string
}

func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

func (c *CSVFile) Name() string {
	return "csv:" + c.path
}

func (c *CSVFile) Load(ctx context.Context) (Index, error) {
	data, err := readFile(c.path)
	if err != nil {
		return nil, err
	}

	records, err := DecodeCSV(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return NewIndex(records), nil
}

func (c *CSVFile) Save(ctx context.Context, records []Record) error {
	return writeFileAtomic(c.path, func(f *os.File) error {
		return EncodeCSV(f, records)
	})
}

func EncodeCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ColumnNames()); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(Columns))
	for _, r := range records {
		for i, col := range Columns {
			row[i] = col.get(r)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

func DecodeCSV(r io.Reader) ([]Record, error) {
	// Spreadsheet exports often start with a byte order mark.
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("CSV history has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	setters := make([]func(r *Record, v string), len(header))
	known := make(map[string]Column, len(Columns))
	for _, col := range Columns {
		known[col.Name] = col
	}
	matched := 0
	fetchedAtCol := -1
	for i, name := range header {
		name = strings.TrimSpace(name)
		if col, ok := known[name]; ok {
			setters[i] = col.set
			matched++
		} else if name == legacyFetchedAt {
			fetchedAtCol = i
			matched++
		}
	}
	if matched == 0 {
		return nil, fmt.Errorf("CSV header has no known columns")
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}

		var rec Record
		for i, v := range row {
			if i < len(setters) && setters[i] != nil {
				setters[i](&rec, v)
			}
		}
		if fetchedAtCol >= 0 && fetchedAtCol < len(row) {
			adoptFetchedAt(&rec, parseCell(row[fetchedAtCol]))
		}
		records = append(records, rec)
	}

	return records, nil
}
