package tasks

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/trafficwatch/app/cfg"
	"github.com/lysyi3m/trafficwatch/app/database"
	"github.com/lysyi3m/trafficwatch/app/feed"
	"github.com/lysyi3m/trafficwatch/app/history"
	"github.com/lysyi3m/trafficwatch/app/runlock"
)

func rssDocument(guids ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>test</title>`)
	for _, g := range guids {
		fmt.Fprintf(&b, "<item><guid>%s</guid><title>Item %s</title><link>https://example.com/%s</link></item>", g, g, g)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

// feedServer serves one RSS document per category and can be told to fail.
type feedServer struct {
	*httptest.Server

	mu         sync.Mutex
	docs       map[feed.Category]string
	failing    map[feed.Category]int // remaining failures, -1 for always
	requests   map[feed.Category]int
	userAgents []string
}

func newFeedServer(t *testing.T) *feedServer {
	fs := &feedServer{
		docs:     make(map[feed.Category]string),
		failing:  make(map[feed.Category]int),
		requests: make(map[feed.Category]int),
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		category := feed.Category(strings.TrimPrefix(r.URL.Path, "/"))

		fs.mu.Lock()
		defer fs.mu.Unlock()
		fs.requests[category]++
		fs.userAgents = append(fs.userAgents, r.Header.Get("User-Agent"))

		if n := fs.failing[category]; n != 0 {
			if n > 0 {
				fs.failing[category] = n - 1
			}
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, fs.docs[category])
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) set(category feed.Category, guids ...string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.docs[category] = rssDocument(guids...)
}

func (fs *feedServer) fail(category feed.Category, times int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.failing[category] = times
}

func (fs *feedServer) requestCount(category feed.Category) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.requests[category]
}

func (fs *feedServer) configs(categories ...feed.Category) []*feed.Config {
	configs := make([]*feed.Config, len(categories))
	for i, c := range categories {
		configs[i] = &feed.Config{
			Category: c,
			URL:      fs.URL + "/" + string(c),
			Settings: feed.ConfigSettings{Enabled: true, Timeout: 5},
		}
	}
	return configs
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type runFixture struct {
	server *feedServer
	clock  *clock
	store  *history.JSONFile
	path   string
	deps   RunDeps
}

func newRunFixture(t *testing.T, policy cfg.FetchErrorPolicy, categories ...feed.Category) *runFixture {
	server := newFeedServer(t)
	path := filepath.Join(t.TempDir(), "trafficwatch.json")
	store := history.NewJSONFile(path)
	clk := &clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}

	return &runFixture{
		server: server,
		clock:  clk,
		store:  store,
		path:   path,
		deps: RunDeps{
			Feeds:        server.configs(categories...),
			HTTPClient:   server.Client(),
			Parser:       feed.NewParser(),
			UserAgent:    "trafficwatch-test",
			FetchRetries: 1,
			RetryDelay:   time.Millisecond,
			OnFetchError: policy,
			Sources:      []history.Source{store},
			Sinks:        []history.Sink{store},
			Now:          clk.Now,
		},
	}
}

func (f *runFixture) load(t *testing.T) history.Index {
	t.Helper()
	idx, err := f.store.Load(context.Background())
	require.NoError(t, err)
	return idx
}

func key(category feed.Category, identity string) history.Key {
	return history.Key{Category: category, Identity: identity}
}

func TestRunTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryIncidents, feed.CategoryRoadworks)

	f.server.set(feed.CategoryIncidents, "A", "B")
	f.server.set(feed.CategoryRoadworks, "R")

	task := NewRunTask(f.deps)
	require.NoError(t, task.Execute(ctx))
	assert.Equal(t, 3, task.Summary.New)

	idx := f.load(t)
	require.Len(t, idx, 3)
	a := idx[key(feed.CategoryIncidents, "A")]
	assert.Equal(t, "Item A", a.Title)
	assert.Equal(t, "2024-03-01", a.FirstSeenDate)
	assert.Equal(t, "08:00:00", a.FirstSeenTime)

	f.clock.set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	f.server.set(feed.CategoryIncidents, "B")

	task = NewRunTask(f.deps)
	require.NoError(t, task.Execute(ctx))
	assert.Equal(t, 1, task.Summary.Ended)
	assert.Equal(t, 2, task.Summary.Updated)

	idx = f.load(t)
	a = idx[key(feed.CategoryIncidents, "A")]
	assert.False(t, a.Active())
	assert.Equal(t, "09:00:00", a.EndedAtTime)
	assert.Equal(t, 2, idx[key(feed.CategoryIncidents, "B")].SeenCount)

	f.clock.set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	f.server.set(feed.CategoryIncidents, "A", "B")

	task = NewRunTask(f.deps)
	require.NoError(t, task.Execute(ctx))
	assert.Equal(t, 1, task.Summary.Reappeared)

	a = f.load(t)[key(feed.CategoryIncidents, "A")]
	assert.True(t, a.Active())
	assert.Empty(t, a.EndedAtDate)
	assert.Equal(t, 2, a.SeenCount)
	assert.Equal(t, "10:00:00", a.LastSeenTime)
	assert.Equal(t, "08:00:00", a.FirstSeenTime)
}

func TestRunTaskSendsHeaders(t *testing.T) {
	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryNews)
	f.server.set(feed.CategoryNews, "N")

	require.NoError(t, NewRunTask(f.deps).Execute(context.Background()))

	f.server.mu.Lock()
	defer f.server.mu.Unlock()
	assert.Equal(t, []string{"trafficwatch-test"}, f.server.userAgents)
}

func TestRunTaskRetriesTransientFailure(t *testing.T) {
	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryEvents)
	f.server.set(feed.CategoryEvents, "E")
	f.server.fail(feed.CategoryEvents, 1)

	require.NoError(t, NewRunTask(f.deps).Execute(context.Background()))

	assert.Equal(t, 2, f.server.requestCount(feed.CategoryEvents))
	assert.Len(t, f.load(t), 1)
}

func TestRunTaskAbortWritesNothing(t *testing.T) {
	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryIncidents, feed.CategoryRoadworks)
	f.server.set(feed.CategoryIncidents, "A")
	f.server.fail(feed.CategoryRoadworks, -1)

	err := NewRunTask(f.deps).Execute(context.Background())
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, feed.CategoryRoadworks, fetchErr.Category)
	assert.Equal(t, 2, f.server.requestCount(feed.CategoryRoadworks))

	_, statErr := os.Stat(f.path)
	assert.True(t, os.IsNotExist(statErr), "history must not be written on abort")
}

func TestRunTaskSkipKeepsUnfetchedCategory(t *testing.T) {
	ctx := context.Background()
	f := newRunFixture(t, cfg.FetchErrorSkip, feed.CategoryIncidents, feed.CategoryRoadworks)

	f.server.set(feed.CategoryIncidents, "A")
	f.server.set(feed.CategoryRoadworks, "R")
	require.NoError(t, NewRunTask(f.deps).Execute(ctx))

	f.clock.set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	f.server.set(feed.CategoryIncidents)
	f.server.fail(feed.CategoryRoadworks, -1)

	task := NewRunTask(f.deps)
	require.NoError(t, task.Execute(ctx))
	assert.Equal(t, 1, task.Summary.Ended)

	idx := f.load(t)
	assert.False(t, idx[key(feed.CategoryIncidents, "A")].Active())

	r := idx[key(feed.CategoryRoadworks, "R")]
	assert.True(t, r.Active(), "records of a feed that failed to fetch must not be ended")
	assert.Equal(t, 1, r.SeenCount)
}

func TestRunTaskSkipFailsWhenNothingFetched(t *testing.T) {
	f := newRunFixture(t, cfg.FetchErrorSkip, feed.CategoryIncidents)
	f.server.fail(feed.CategoryIncidents, -1)

	err := NewRunTask(f.deps).Execute(context.Background())
	assert.Error(t, err)
}

func TestRunTaskEmptyFeedOnFirstRun(t *testing.T) {
	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryNews)
	f.server.set(feed.CategoryNews)

	require.NoError(t, NewRunTask(f.deps).Execute(context.Background()))

	data, err := os.ReadFile(f.path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestRunTaskHonoursRunLock(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	locker, err := runlock.New("redis://"+mr.Addr(), "trafficwatch:lock:test", time.Minute)
	require.NoError(t, err)
	defer locker.Close()

	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryIncidents)
	f.server.set(feed.CategoryIncidents, "A")
	f.deps.Locker = locker

	require.NoError(t, NewRunTask(f.deps).Execute(ctx))
	assert.False(t, mr.Exists("trafficwatch:lock:test"), "lock must be released after the run")

	held, err := locker.Acquire(ctx)
	require.NoError(t, err)
	defer held.Release(ctx)

	err = NewRunTask(f.deps).Execute(ctx)
	assert.ErrorIs(t, err, runlock.ErrHeld)
	assert.Equal(t, 1, f.server.requestCount(feed.CategoryIncidents), "a locked-out run must not fetch")
}

func TestRunTaskWithSQLiteLedger(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "trafficwatch.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	repo := database.NewHistoryRepository(db, dbPath)

	f := newRunFixture(t, cfg.FetchErrorAbort, feed.CategoryIncidents)
	f.server.set(feed.CategoryIncidents, "A")
	// JSON first; the ledger is only read when no JSON history exists.
	f.deps.Sources = append(f.deps.Sources, repo)
	f.deps.Sinks = append(f.deps.Sinks, repo)
	f.deps.RunLog = repo

	require.NoError(t, NewRunTask(f.deps).Execute(ctx))
	require.NoError(t, os.Remove(f.path))

	f.clock.set(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, NewRunTask(f.deps).Execute(ctx))

	idx, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, idx[key(feed.CategoryIncidents, "A")].SeenCount)
	assert.Equal(t, 2, f.load(t)[key(feed.CategoryIncidents, "A")].SeenCount)

	runs, err := repo.GetRunCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, runs)
}
