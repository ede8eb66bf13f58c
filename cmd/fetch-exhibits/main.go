// Command fetch-exhibits pulls exhibit background text from the Wikipedia
// REST API and writes it into the content directory consumed by cmd/ingest.
// With -register it also seeds the exhibit registry in Neo4j.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"

	"github.com/MiraAI/mira-guide/engine/exhibits"
	"github.com/MiraAI/mira-guide/pkg/fn"
)

// listEntry is one row of the exhibit list file.
type listEntry struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Year     string `json:"year,omitempty"`
	Category string `json:"category,omitempty"`
	WikiPage string `json:"wiki_page"`
	WikiLang string `json:"wiki_lang,omitempty"`
}

// summary is the slice of the Wikipedia REST page summary we keep.
type summary struct {
	Extract string `json:"extract"`
}

var errPageMissing = errors.New("page missing")

// fetchRetry rides out transient Wikipedia hiccups. A missing page never
// resolves by retrying.
var fetchRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 2 * time.Second,
	MaxWait:     15 * time.Second,
	Jitter:      true,
	RetryIf:     func(err error) bool { return !errors.Is(err, errPageMissing) },
}

func main() {
	_ = godotenv.Load()

	var (
		listPath   = flag.String("list", "exhibits.json", "exhibit list file")
		contentDir = flag.String("dir", "./content", "content output directory")
		register   = flag.Bool("register", false, "also save exhibits to the registry")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	data, err := os.ReadFile(*listPath)
	if err != nil {
		logger.Error("read exhibit list", "err", err)
		os.Exit(1)
	}
	var entries []listEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		logger.Error("parse exhibit list", "err", err)
		os.Exit(1)
	}

	var registry *exhibits.Registry
	if *register {
		driver, err := neo4j.NewDriverWithContext(
			envOr("NEO4J_URL", "neo4j://localhost:7687"),
			neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""),
		)
		if err != nil {
			logger.Error("neo4j connect", "err", err)
			os.Exit(1)
		}
		defer driver.Close(ctx)
		registry = exhibits.NewRegistry(driver, logger)
	}

	os.MkdirAll(*contentDir, 0o755)

	// Wikipedia asks for polite clients; one request per second is plenty
	// for museum-sized lists.
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	client := &http.Client{Timeout: 15 * time.Second}

	var fetched, failed int
	for _, e := range entries {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		text, err := fn.Retry(ctx, fetchRetry, func(ctx context.Context) fn.Result[string] {
			s, err := fetchSummary(ctx, client, e)
			if err != nil {
				return fn.Err[string](err)
			}
			return fn.Ok(s)
		}).Unwrap()
		if err != nil {
			logger.Error("fetch failed", "exhibit_id", e.ID, "page", e.WikiPage, "err", err)
			failed++
			continue
		}

		path := filepath.Join(*contentDir, e.ID+".txt")
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			logger.Error("write content", "exhibit_id", e.ID, "err", err)
			failed++
			continue
		}
		fetched++
		logger.Info("content written", "exhibit_id", e.ID, "bytes", len(text))

		if registry != nil {
			_, err := registry.Save(ctx, exhibits.Exhibit{
				ID:       e.ID,
				Code:     e.Code,
				Title:    e.Title,
				Artist:   e.Artist,
				Year:     e.Year,
				Category: e.Category,
				Summary:  firstSentence(text),
			})
			if err != nil {
				logger.Error("registry save", "exhibit_id", e.ID, "err", err)
			}
		}
	}

	logger.Info("fetch complete", "fetched", fetched, "failed", failed, "total", len(entries))
}

func fetchSummary(ctx context.Context, client *http.Client, e listEntry) (string, error) {
	lang := e.WikiLang
	if lang == "" {
		lang = "en"
	}
	endpoint := fmt.Sprintf("https://%s.wikipedia.org/api/rest_v1/page/summary/%s",
		lang, url.PathEscape(e.WikiPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "mira-guide-fetcher (museum content tool)")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", errPageMissing, e.WikiPage)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wikipedia returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var s summary
	if err := json.Unmarshal(body, &s); err != nil {
		return "", err
	}
	if s.Extract == "" {
		return "", fmt.Errorf("empty extract for %s", e.WikiPage)
	}
	return s.Extract, nil
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	if len(text) > 200 {
		return text[:200]
	}
	return text
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
