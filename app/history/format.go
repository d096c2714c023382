package history

import (
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Formatter derives the display fields of a record from its timestamps.
type Formatter struct {
	loc *time.Location
}

// NewFormatter renders in loc; a nil loc means UTC.
func NewFormatter(loc *time.Location) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{loc: loc}
}

func (f *Formatter) Split(ts Timestamp) (date, clock string) {
	if ts.IsZero() {
		return "", ""
	}
	local := ts.In(f.loc)
	return local.Format(DateLayout), local.Format(TimeLayout)
}

func (f *Formatter) Annotate(r Record) Record {
	r.FirstSeenDate, r.FirstSeenTime = f.Split(r.FirstSeen)
	r.LastSeenDate, r.LastSeenTime = f.Split(r.LastSeen)
	r.EndedAtDate, r.EndedAtTime = f.Split(r.EndedAt)
	return r
}

// AnnotateAll recomputes the display fields of every record in idx.
func (f *Formatter) AnnotateAll(idx Index) {
	for key, r := range idx {
		idx[key] = f.Annotate(r)
	}
}
