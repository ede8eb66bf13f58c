// Command backfill links isolated exhibits into the relation graph. It
// finds exhibits with no RELATED_TO edges and relates each to its
// same-category peers so the recommendation path always has somewhere to go.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/MiraAI/mira-guide/engine/exhibits"
	"github.com/MiraAI/mira-guide/pkg/fn"
)

func main() {
	_ = godotenv.Load()

	dryRun := flag.Bool("dry-run", false, "report what would be linked without writing")
	peers := flag.Int("peers", 3, "max same-category peers to relate per exhibit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	neo4jUser := envOr("NEO4J_USER", "neo4j")
	neo4jPass := envOr("NEO4J_PASS", "password")

	driver, err := neo4j.NewDriverWithContext(neo4jURL, neo4j.BasicAuth(neo4jUser, neo4jPass, ""))
	if err != nil {
		logger.Error("neo4j connect", "err", err)
		os.Exit(1)
	}
	defer driver.Close(ctx)

	registry := exhibits.NewRegistry(driver, logger)

	unlinked, err := registry.Unlinked(ctx)
	if err != nil {
		logger.Error("query unlinked exhibits", "err", err)
		os.Exit(1)
	}
	logger.Info("unlinked exhibits found", "count", len(unlinked))

	var linked, skipped, failed int
	for _, e := range unlinked {
		// Related falls back to same-category peers when an exhibit has
		// no edges, which is exactly the candidate set to link against.
		candidates, err := registry.Related(ctx, e.ID, *peers)
		if err != nil {
			logger.Error("find peers", "exhibit_id", e.ID, "err", err)
			failed++
			continue
		}
		// One edge per distinct peer, never to the exhibit itself.
		candidates = fn.Filter(
			fn.UniqueBy(candidates, func(p exhibits.Exhibit) string { return p.ID }),
			func(p exhibits.Exhibit) bool { return p.ID != e.ID },
		)
		if len(candidates) == 0 {
			logger.Warn("no same-category peers", "exhibit_id", e.ID, "category", e.Category)
			skipped++
			continue
		}

		for _, peer := range candidates {
			if *dryRun {
				logger.Info("would relate", "exhibit_id", e.ID, "peer", peer.ID)
				continue
			}
			if err := registry.Relate(ctx, e.ID, peer.ID); err != nil {
				logger.Error("relate", "exhibit_id", e.ID, "peer", peer.ID, "err", err)
				failed++
				continue
			}
		}
		linked++
	}

	logger.Info("backfill complete", "linked", linked, "skipped", skipped, "failed", failed, "dry_run", *dryRun)

	if remaining, err := registry.Unlinked(ctx); err == nil {
		logger.Info("unlinked exhibits remaining", "count", len(remaining))
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
