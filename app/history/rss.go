package history

import (
	"bytes"
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"
)

// RSSFile publishes the currently active records as an RSS 2.0 document.
type RSSFile struct {
	path      string
	title     string
	link      string
	generator string
}

func NewRSSFile(path, title, link, generator string) *RSSFile {
	return &RSSFile{path: path, title: title, link: link, generator: generator}
}

func (g *RSSFile) Name() string {
	return "rss:" + g.path
}

func (g *RSSFile) Save(ctx context.Context, records []Record) error {
	data := g.Render(records)
	return writeFileAtomic(g.path, func(f *os.File) error {
		if _, err := f.WriteString(data); err != nil {
			return fmt.Errorf("failed to write RSS: %w", err)
		}
		return nil
	})
}

// Render builds the document. The build date is the latest sighting among
// active records so repeated renders of one history are identical.
func (g *RSSFile) Render(records []Record) string {
	var buf bytes.Buffer

	active := make([]Record, 0, len(records))
	var lastBuild time.Time
	for _, r := range records {
		if !r.Active() {
			continue
		}
		active = append(active, r)
		if r.LastSeen.After(lastBuild) {
			lastBuild = r.LastSeen.Time
		}
	}

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", g.title, 4)
	g.writeElement(&buf, "link", g.link, 4)
	g.writeElement(&buf, "description", fmt.Sprintf("%d active traffic items", len(active)), 4)
	if !lastBuild.IsZero() {
		g.writeElement(&buf, "lastBuildDate", lastBuild.Format(time.RFC1123Z), 4)
	}
	g.writeElement(&buf, "generator", g.generator, 4)

	for _, r := range active {
		g.writeItem(&buf, r)
	}

	buf.WriteString("  </channel>\n</rss>\n")

	return buf.String()
}

func (g *RSSFile) writeItem(buf *bytes.Buffer, r Record) {
	buf.WriteString("    <item>\n")

	fmt.Fprintf(buf, "      <guid isPermaLink=\"%t\">", r.Identity == r.Link && g.isURL(r.Identity))
	xml.EscapeText(buf, []byte(r.Identity))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", r.Title, 6)
	g.writeElement(buf, "link", r.Link, 6)
	g.writeElement(buf, "description", cmp.Or(r.Description, "No description available"), 6)
	g.writeElement(buf, "pubDate", r.PubDate, 6)
	g.writeElement(buf, "category", string(r.Category), 6)

	buf.WriteString("    </item>\n")
}

func (g *RSSFile) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	buf.WriteString(strings.Repeat(" ", indent))
	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *RSSFile) isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
