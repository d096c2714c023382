package feed

import (
	"cmp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize converts a raw entry into a canonical item. The identity is the
// first non-empty of guid, link and title.
func Normalize(category Category, entry Entry) Item {
	item := Item{
		Category:    category,
		Title:       clean(entry.Title),
		PubDate:     clean(entry.PubDate),
		Description: clean(entry.Description),
		Link:        clean(entry.Link),
	}
	item.Identity = cmp.Or(clean(entry.GUID), item.Link, item.Title)
	return item
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
