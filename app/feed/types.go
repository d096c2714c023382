package feed

import (
	"fmt"
)

// Category identifies one of the traffic feeds. The set is fixed.
type Category string

const (
	CategoryIncidents Category = "incidents"
	CategoryRoadworks Category = "roadworks"
	CategoryEvents    Category = "events"
	CategoryNews      Category = "news"
)

// Categories lists every known category in canonical order.
var Categories = []Category{
	CategoryIncidents,
	CategoryRoadworks,
	CategoryEvents,
	CategoryNews,
}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown feed category '%s'", s)
}

// Rank returns the position of c in Categories, or len(Categories) for
// unknown values so they sort last.
func (c Category) Rank() int {
	for i, known := range Categories {
		if known == c {
			return i
		}
	}
	return len(Categories)
}

// Feed processing types

// Entry is a raw feed entry as exposed by the source. Every field is optional.
type Entry struct {
	GUID        string
	Title       string
	PubDate     string // opaque, as supplied by the feed
	Description string
	Link        string
}

// Item is the canonical shape of an entry within one run.
type Item struct {
	Category    Category
	Identity    string // empty when the entry cannot be tracked
	Title       string
	PubDate     string
	Description string
	Link        string
}

func (i Item) Identifiable() bool {
	return i.Identity != ""
}

// Configuration types

type Config struct {
	Category Category       // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"` // seconds
}
