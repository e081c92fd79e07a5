package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"webharvest/internal/browser"
	"webharvest/internal/config"
	"webharvest/internal/scheduler"
	"webharvest/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to crawler configuration file")
	seeds := flag.String("seeds", "", "Comma-separated seed URLs overriding the config file")
	concurrency := flag.Int("concurrency", 0, "Worker count override")
	dsn := flag.String("dsn", "", "Database DSN override (postgres)")
	render := flag.Bool("render", true, "Use a headless browser; false falls back to plain HTTP")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *seeds != "" {
		cfg.Crawl.Seeds = splitList(*seeds)
	}
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}
	if *dsn != "" {
		cfg.DB.Driver = "postgres"
		cfg.DB.DSN = *dsn
	}
	if !*render {
		cfg.Rendering.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := scheduler.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlStore, err := storage.NewSQLStore(cfg.DB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			os.Exit(1)
		}
		store = sqlStore
	} else {
		logger.Warn("no database configured, results stay in memory")
		store = storage.NewMemoryStore()
	}
	defer store.Close()

	var factory browser.Factory
	if cfg.Rendering.Enabled {
		factory = browser.NewChromeFactory(cfg.Rendering, logger)
	} else {
		factory = browser.NewHTTPFactory(6 * 1024 * 1024)
	}

	sched, err := scheduler.New(*cfg, factory, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise scheduler: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crawler stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
