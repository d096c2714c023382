package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/trafficwatch/app/cfg"
	"github.com/lysyi3m/trafficwatch/app/database"
	"github.com/lysyi3m/trafficwatch/app/feed"
	"github.com/lysyi3m/trafficwatch/app/history"
	"github.com/lysyi3m/trafficwatch/app/runlock"
	"github.com/lysyi3m/trafficwatch/app/tasks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCfg, err := cfg.Load()
	if err != nil {
		return err
	}
	if appCfg == nil {
		// Help was shown
		return nil
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting trafficwatch", "version", appCfg.Version, "timezone", appCfg.Timezone)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		return fmt.Errorf("failed to load feed configurations: %w", err)
	}
	feeds := configCache.GetEnabledConfigs()
	slog.Info("Feed configurations loaded", "total", configCache.GetConfigCount(), "enabled", len(feeds))

	jsonFile := history.NewJSONFile(appCfg.JSONPath)
	csvFile := history.NewCSVFile(appCfg.CSVPath)
	sources := []history.Source{jsonFile, csvFile}
	sinks := []history.Sink{jsonFile, csvFile}

	deps := tasks.RunDeps{
		Feeds: feeds,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		},
		Parser:       feed.NewParser(),
		UserAgent:    appCfg.UserAgent,
		FetchRetries: appCfg.FetchRetries,
		RetryDelay:   time.Second,
		OnFetchError: appCfg.OnFetchError,
		Formatter:    history.NewFormatter(appCfg.Location),
	}

	if appCfg.DBPath != "" {
		db, err := database.Open(appCfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		repo := database.NewHistoryRepository(db, appCfg.DBPath)
		sources = append(sources, repo)
		sinks = append(sinks, repo)
		deps.RunLog = repo
	}

	if appCfg.RSSPath != "" {
		sinks = append(sinks, history.NewRSSFile(appCfg.RSSPath, "Traffic Watch NI - active items",
			"https://www.trafficwatchni.com", "trafficwatch/"+appCfg.Version))
	}

	deps.Sources = sources
	deps.Sinks = sinks

	if appCfg.RedisURL != "" {
		locker, err := runlock.New(appCfg.RedisURL, "trafficwatch:lock:"+appCfg.JSONPath, appCfg.LockTTL)
		if err != nil {
			return fmt.Errorf("failed to connect run lock: %w", err)
		}
		defer locker.Close()
		deps.Locker = locker
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if appCfg.Schedule == "" {
		return tasks.NewRunTask(deps).Execute(ctx)
	}

	scheduler, err := tasks.NewScheduler(ctx, appCfg.Schedule, appCfg.Location, appCfg.LockTTL,
		func() tasks.TaskInterface { return tasks.NewRunTask(deps) })
	if err != nil {
		return err
	}

	if err := scheduler.EnqueueTask(tasks.NewRunTask(deps)); err != nil {
		if errors.Is(err, runlock.ErrHeld) {
			slog.Warn("Initial run skipped, another run holds the lock")
		} else {
			slog.Error("Initial run failed", "error", err)
		}
	}

	scheduler.Start()
	slog.Info("Scheduler running", "schedule", appCfg.Schedule)

	<-ctx.Done()
	slog.Info("Shutting down scheduler")
	scheduler.Stop()

	return nil
}
