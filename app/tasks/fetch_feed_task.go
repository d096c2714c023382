package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/lysyi3m/trafficwatch/app/feed"
)

// FetchError reports a feed that could not be fetched or parsed.
type FetchError struct {
	Category feed.Category
	URL      string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed %s (%s): %v", e.Category, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchFeedTask downloads and parses one feed. On success the normalized
// items are available in Items.
type FetchFeedTask struct {
	Task
	FeedConfig *feed.Config
	httpClient *http.Client
	parser     *feed.Parser
	userAgent  string

	Items []feed.Item
}

func NewFetchFeedTask(feedConfig *feed.Config, httpClient *http.Client, parser *feed.Parser, userAgent string, maxRetries int) *FetchFeedTask {
	task := NewTask(TaskTypeFetchFeed, feedConfig.Category)
	task.MaxRetries = maxRetries
	return &FetchFeedTask{
		Task:       task,
		FeedConfig: feedConfig,
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
	}
}

func (t *FetchFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := t.fetchFeed(ctx, t.FeedConfig.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	items, err := t.parser.Run(data, t.FeedConfig.Category)
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}
	t.Items = items

	slog.Info("Task completed",
		"type", string(t.GetType()),
		"feed", t.Category,
		"duration", t.GetDuration(),
		"items", len(items))

	return nil
}

func (t *FetchFeedTask) fetchFeed(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.FeedConfig.GetTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
