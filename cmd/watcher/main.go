package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"site_watcher/internal/api"
	"site_watcher/internal/bot"
	"site_watcher/internal/config"
	"site_watcher/internal/extract"
	"site_watcher/internal/fetcher"
	"site_watcher/internal/filter"
	"site_watcher/internal/lock"
	"site_watcher/internal/metrics"
	"site_watcher/internal/notify"
	"site_watcher/internal/scanner"
	"site_watcher/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	if err := run(cfg, *once, log); err != nil {
		log.Error("watcher failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." && cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rules, err := filter.Parse(filter.Split(cfg.ItemInclude), filter.Split(cfg.ItemExclude))
	if err != nil {
		return err
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	notifiers := notify.Multi{
		notify.NewEmail(notify.NewSMTP(cfg.NotifyTimeout), cfg.ListingURL, log),
	}

	var tg *bot.Bot
	if cfg.TelegramBotToken != "" {
		tg, err = bot.New(cfg.TelegramBotToken, store, cfg, log)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, tg)
	}

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		locker = lock.NewRedis(client, cfg.LockKey, cfg.LockTTL)
	}

	sc := scanner.New(
		store,
		fetcher.New(&http.Client{}, cfg.UserAgent, cfg.FetchTimeout),
		newExtractor(cfg),
		notifiers,
		locker,
		scanner.Options{
			ListingURL:    cfg.ListingURL,
			FetchTimeout:  cfg.FetchTimeout,
			CommitTimeout: cfg.CommitTimeout,
			NotifyTimeout: cfg.NotifyTimeout,
			Guard: scanner.Guard{
				MaxRemovalRatio: cfg.MassRemovalRatio,
				MinTracked:      cfg.MassRemovalMinTracked,
			},
			Rules: rules,
		},
		log,
	)
	if err := sc.Restore(ctx); err != nil {
		return err
	}

	if once {
		rep, err := sc.ScanNow(ctx, scanner.TriggerOnce)
		if err != nil {
			return err
		}
		log.Info("scan finished",
			"scan_id", rep.ScanID,
			"new", rep.Counts.New,
			"modified", rep.Counts.Modified,
			"removed", rep.Counts.Removed,
			"active", rep.Active,
		)
		return nil
	}

	log.Info("starting watcher", "listing_url", cfg.ListingURL, "mode", cfg.ExtractMode, "http_addr", cfg.HTTPAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc.Run(ctx)
	}()

	if tg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tg.Run(ctx, sc)
		}()
	}

	var srvErr error
	if cfg.HTTPAddr != "" {
		srv := api.New(cfg.HTTPAddr, sc, store, prometheus.DefaultGatherer, cfg.ListingURL, log)
		if srvErr = srv.Run(ctx); srvErr != nil {
			cancel()
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	sc.Wait()
	log.Info("watcher stopped")

	if srvErr != nil && !errors.Is(srvErr, context.Canceled) {
		return srvErr
	}
	return nil
}

func newExtractor(cfg *config.Config) extract.Extractor {
	if cfg.ExtractMode == config.ModeFeed {
		return extract.NewFeed()
	}
	return extract.NewHTML(cfg.ItemSelector, cfg.ListingSelector, cfg.EmptySelector)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
