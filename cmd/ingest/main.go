// Command ingest feeds exhibit texts into the knowledge store. It consumes
// ingestion jobs from NATS and also watches a content directory of
// <exhibit_id>.txt files, re-ingesting any file whose mtime changed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/engine/ingest"
	"github.com/MiraAI/mira-guide/engine/knowledge"
	"github.com/MiraAI/mira-guide/pkg/embed"
	"github.com/MiraAI/mira-guide/pkg/metrics"
)

const vectorDims = 768 // nomic-embed-text

func main() {
	_ = godotenv.Load()

	var (
		contentDir = flag.String("dir", "./content", "directory of <exhibit_id>.txt files")
		ollamaURL  = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		model      = flag.String("model", envOr("EMBED_MODEL", "nomic-embed-text"), "embedding model")
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection = flag.String("collection", envOr("QDRANT_COLLECTION", "exhibits"), "Qdrant collection name")
		natsURL    = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
		interval   = flag.Duration("interval", 30*time.Second, "content scan interval")
		stateFile  = flag.String("state", "./content/.ingest-state.json", "ingested file mtime state")
		source     = flag.String("source", "curator", "source tag for directory ingests")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := metrics.New()
	reg.ServeAsync(envOr("METRICS_ADDR", ":9091"), logger)
	stopRuntime := reg.CollectRuntime("mira_ingest", 15*time.Second)
	defer stopRuntime()

	index, err := knowledge.NewQdrantIndex(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx, vectorDims); err != nil {
		logger.Error("qdrant ensure collection failed", "err", err)
		os.Exit(1)
	}
	logger.Info("connected to qdrant", "collection", *collection, "dims", vectorDims)

	embedder := embed.NewOllama(*ollamaURL, *model)
	svc := knowledge.NewService(embedder, index, logger, reg)

	nc, err := nats.Connect(*natsURL)
	if err != nil {
		logger.Error("nats connect failed", "err", err)
		os.Exit(1)
	}
	defer nc.Drain()

	sub, err := ingest.Start(nc, svc, logger, reg)
	if err != nil {
		logger.Error("consumer start failed", "err", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()
	logger.Info("consuming jobs", "subject", ingest.Subject, "queue", ingest.Queue)

	w := &watcher{
		dir:       *contentDir,
		stateFile: *stateFile,
		source:    *source,
		svc:       svc,
		logger:    logger,
		state:     loadState(*stateFile),
		scans:     reg.Counter("ingest_content_scans_total", "Content directory scans"),
		files:     reg.Counter("ingest_content_files_total", "Content files ingested"),
	}

	os.MkdirAll(*contentDir, 0o755)
	logger.Info("watching content", "dir", *contentDir, "interval", *interval)

	w.scan(ctx)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

// watcher re-ingests content files when their mtime moves. A changed file
// is purged first so the replacement cannot double-count chunks.
type watcher struct {
	dir       string
	stateFile string
	source    string
	svc       *knowledge.Service
	logger    *slog.Logger
	state     map[string]int64

	scans *metrics.Counter
	files *metrics.Counter
}

func (w *watcher) scan(ctx context.Context) {
	w.scans.Inc()
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("readdir failed", "err", err)
		return
	}

	changed := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mtime := info.ModTime().Unix()
		if w.state[e.Name()] == mtime {
			continue
		}

		exhibitID := strings.TrimSuffix(e.Name(), ".txt")
		if err := w.ingestFile(ctx, exhibitID, filepath.Join(w.dir, e.Name())); err != nil {
			w.logger.Error("file ingest failed, will retry next scan", "file", e.Name(), "err", err)
			continue
		}
		w.state[e.Name()] = mtime
		changed = true
		w.files.Inc()
	}
	if changed {
		saveState(w.stateFile, w.state)
	}
}

func (w *watcher) ingestFile(ctx context.Context, exhibitID, path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	purged, err := w.svc.Purge(ctx, exhibitID)
	if err != nil {
		return err
	}

	n, err := w.svc.Ingest(ctx, domain.IngestJob{
		ExhibitID: exhibitID,
		Text:      string(text),
		Source:    w.source,
	})
	if err != nil {
		return err
	}
	w.logger.Info("content file ingested", "exhibit_id", exhibitID, "purged", purged, "chunks", n)
	return nil
}

func loadState(path string) map[string]int64 {
	state := make(map[string]int64)
	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return make(map[string]int64)
	}
	return state
}

func saveState(path string, state map[string]int64) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
