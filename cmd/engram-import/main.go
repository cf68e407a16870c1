// Command engram-import ingests a directory of Markdown notes through the
// trust gate and exits. Run it against an existing data directory while the
// daemon is stopped, or point it at the daemon's data path and let the
// artifact watcher pick the changes up.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/engram-memory/engram/internal/config"
	"github.com/engram-memory/engram/internal/embedding"
	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/internal/importer"
	"github.com/engram-memory/engram/internal/lexical"
	"github.com/engram-memory/engram/internal/logger"
	"github.com/engram-memory/engram/internal/notify"
	"github.com/engram-memory/engram/internal/store"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config file (env vars override)")
	notesDir    = flag.String("notes", "", "Directory of Markdown notes to import (required)")
	noEmbedding = flag.Bool("no-embedding", false, "Skip embedding generation during import")
)

func main() {
	flag.Parse()
	if *notesDir == "" {
		fmt.Fprintln(os.Stderr, "engram-import: -notes is required")
		flag.Usage()
		os.Exit(2)
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "engram-import: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Load()
	}
	log := logger.Init()

	table, err := store.OpenFileTable(filepath.Join(cfg.Storage.DataPath, "embeddings.json"))
	if err != nil {
		log.Fatal().Err(err).Msg("open embedding table")
	}
	st, err := store.Open(cfg.Storage.DataPath, table, cfg.Storage.RecordCacheSize, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}

	var provider embedding.Provider
	if !*noEmbedding && cfg.Embedding.Endpoint != "" {
		provider = embedding.NewClient(cfg.Embedding, log)
	}
	notifier, err := notify.NewFileNotifier(cfg.Storage.DataPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open notifier")
	}

	eng := engine.New(st, lexical.NewBM25Scorer(), provider, notifier, cfg, log)
	defer func() { _ = eng.Close() }()

	report, err := importer.New(eng, log).Run(context.Background(), *notesDir)
	if err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
