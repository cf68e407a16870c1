// Command engramd runs the Engram memory daemon: the HTTP API, the hybrid
// retrieval engine, and the scheduled maintenance passes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/engram-memory/engram/internal/assemble"
	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/embedding"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/internal/lexical"
	"github.com/engram-memory/engram/internal/logger"
	"github.com/engram-memory/engram/internal/notify"
	"github.com/engram-memory/engram/internal/server"
	"github.com/engram-memory/engram/internal/store"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file (env vars override)")
	noSchedule  = flag.Bool("no-schedule", false, "Disable the maintenance scheduler")
	noEmbedding = flag.Bool("no-embedding", false, "Run lexical-only, without the embedding provider")
)

func main() {
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "engramd: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Load()
	}

	log := logger.Init()

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("engramd failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := openEmbeddingTable(cfg)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DataPath, table, cfg.Storage.RecordCacheSize, log)
	if err != nil {
		return err
	}

	if cfg.Storage.WatchExternal {
		watcher, err := store.NewWatcher(st, log)
		if err != nil {
			log.Warn().Err(err).Msg("artifact watcher unavailable")
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	scorer, err := openScorer(cfg)
	if err != nil {
		return err
	}

	var provider embedding.Provider
	if !*noEmbedding && cfg.Embedding.Endpoint != "" {
		provider = embedding.NewClient(cfg.Embedding, log)
	}

	notifier, err := notify.NewFileNotifier(cfg.Storage.DataPath, log)
	if err != nil {
		return err
	}

	eng := engine.New(st, scorer, provider, notifier, cfg, log)
	defer func() { _ = eng.Close() }()

	// Neither scorer backend is the source of truth; replay the store.
	if err := eng.RebuildLexical(ctx); err != nil {
		return err
	}

	if !*noSchedule {
		sched, err := startScheduler(ctx, cfg, eng, log)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	assembler := assemble.New(eng, cfg.Assembler, log)
	return server.New(cfg, eng, assembler, log).Run(ctx)
}

func openEmbeddingTable(cfg *config.Config) (store.EmbeddingTable, error) {
	switch cfg.Storage.EmbeddingTable {
	case "", "file":
		return store.OpenFileTable(filepath.Join(cfg.Storage.DataPath, "embeddings.json"))
	case "postgres":
		return store.OpenPgVectorTable(cfg.Storage.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown embedding table backend %q", cfg.Storage.EmbeddingTable)
	}
}

func openScorer(cfg *config.Config) (lexical.Scorer, error) {
	switch cfg.Lexical.Engine {
	case "", "bm25":
		return lexical.NewBM25Scorer(), nil
	case "sqlite":
		path := cfg.Lexical.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Storage.DataPath, "lexical.db")
		}
		return lexical.NewFTS5Scorer(path)
	default:
		return nil, fmt.Errorf("unknown lexical engine %q", cfg.Lexical.Engine)
	}
}

// startScheduler runs the maintenance passes on their cron schedules.
func startScheduler(ctx context.Context, cfg *config.Config, eng *engine.Engine, log zerolog.Logger) (*cron.Cron, error) {
	c := cron.New()

	jobs := []struct {
		name     string
		schedule string
		run      func() error
	}{
		{"decay", cfg.Maintenance.DecaySchedule, func() error {
			_, err := eng.ApplyDecay(ctx)
			return err
		}},
		{"consolidate", cfg.Maintenance.ConsolidateSchedule, func() error {
			_, err := eng.Consolidate(ctx, false)
			return err
		}},
		{"expiry", cfg.Maintenance.ExpirySchedule, func() error {
			_, err := eng.ClearExpired(ctx)
			return err
		}},
	}
	for _, job := range jobs {
		job := job
		if job.schedule == "" {
			continue
		}
		_, err := c.AddFunc(job.schedule, func() {
			if err := job.run(); err != nil {
				log.Error().Str("job", job.name).Err(err).Msg("maintenance job failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s job: %w", job.name, err)
		}
	}

	c.Start()
	log.Info().Msg("maintenance scheduler started")
	return c, nil
}
