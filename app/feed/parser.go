package feed

import (
	"bytes"
	"fmt"

	"github.com/mmcdole/gofeed"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte, category Category) ([]Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		items = append(items, Normalize(category, p.toEntry(item)))
	}

	return items, nil
}

func (p *Parser) toEntry(item *gofeed.Item) Entry {
	return Entry{
		GUID:        item.GUID,
		Title:       item.Title,
		PubDate:     item.Published,
		Description: item.Description,
		Link:        item.Link,
	}
}
