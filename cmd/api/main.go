// Package main implements the Mira guide API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/MiraAI/mira-guide/engine/answer"
	"github.com/MiraAI/mira-guide/engine/exhibits"
	"github.com/MiraAI/mira-guide/engine/ingest"
	"github.com/MiraAI/mira-guide/engine/knowledge"
	"github.com/MiraAI/mira-guide/engine/memory"
	"github.com/MiraAI/mira-guide/engine/speech"
	"github.com/MiraAI/mira-guide/pkg/embed"
	"github.com/MiraAI/mira-guide/pkg/llm"
	"github.com/MiraAI/mira-guide/pkg/metrics"
	"github.com/MiraAI/mira-guide/pkg/mid"
	"github.com/MiraAI/mira-guide/pkg/tts"
	"github.com/redis/go-redis/v9"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	MetricsAddr string
	Neo4jURL    string
	Neo4jUser   string
	Neo4jPass   string
	QdrantURL   string
	Collection  string
	RedisAddr   string
	NATSURL     string
	GeminiKeys  string
	OllamaURL   string
	EmbedModel  string
	AWSRegion   string
	CORSOrigin  string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		Neo4jURL:    envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:   envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:   envOr("NEO4J_PASS", "password"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "exhibits"),
		RedisAddr:   envOr("REDIS_ADDR", "localhost:6379"),
		NATSURL:     envOr("NATS_URL", nats.DefaultURL),
		GeminiKeys:  os.Getenv("GEMINI_KEYS"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:  envOr("EMBED_MODEL", "nomic-embed-text"),
		AWSRegion:   envOr("AWS_REGION", "eu-central-1"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseCredentials reads "label:key,label:key" (bare keys get numbered
// labels) into ring credentials.
func parseCredentials(raw string) []llm.Credential {
	var creds []llm.Credential
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, key, found := strings.Cut(part, ":")
		if !found {
			label, key = fmt.Sprintf("key-%d", i+1), part
		}
		creds = append(creds, llm.Credential{Label: label, Key: key})
	}
	return creds
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	reg.ServeAsync(cfg.MetricsAddr, logger)
	stopRuntime := reg.CollectRuntime("mira", 15*time.Second)
	defer stopRuntime()

	// --- Connect to Neo4j ---
	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer neo4jDriver.Close(ctx)

	registry := exhibits.NewRegistry(neo4jDriver, logger)

	// --- Connect to Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	memStore := memory.NewStore(memory.NewRedisKV(rdb), logger, reg)

	// --- Connect to Qdrant ---
	index, err := knowledge.NewQdrantIndex(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer index.Close()

	// --- Generation + embeddings ---
	var (
		generator llm.Generator
		voiceIn   transcriber
		embedder  embed.Embedder
		creds     = parseCredentials(cfg.GeminiKeys)
	)
	if len(creds) > 0 {
		gemini := llm.NewGemini(reg)
		generator = gemini
		embedder = embed.NewGemini(creds[0].Key)
		voiceIn = gemini
	} else {
		// Local development fallback.
		logger.Warn("GEMINI_KEYS unset, using local ollama")
		generator = llm.NewOllama(cfg.OllamaURL, "llama3")
		embedder = embed.NewOllama(cfg.OllamaURL, cfg.EmbedModel)
		creds = []llm.Credential{{Label: "ollama"}}
	}
	ring, err := llm.NewRing(creds)
	if err != nil {
		return fmt.Errorf("credential ring: %w", err)
	}
	rotator := llm.NewRotator(generator, ring, logger, reg)

	knowSvc := knowledge.NewService(embedder, index, logger, reg)

	answerSvc := answer.NewService(knowSvc, rotator, logger, reg,
		answer.WithMemory(memStore),
		answer.WithStats(registry),
	)

	// --- Speech synthesis ---
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}
	synth := tts.NewPolly(polly.NewFromConfig(awsCfg))

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Drain()

	ingestSub, err := ingest.Start(nc, knowSvc, logger, reg)
	if err != nil {
		return fmt.Errorf("ingest consumer: %w", err)
	}
	defer ingestSub.Unsubscribe()

	sink := speech.NewNATSFrameSink(nc)
	sessions := newSessionRegistry(func(sessionID string) *speech.Scheduler {
		return speech.NewScheduler(sessionID, synth, &clockPlayer{}, sink, speech.DefaultOptions, logger, reg)
	})

	srv := newServer(serverDeps{
		answers:     answerSvc,
		transcriber: newRingTranscriber(voiceIn, ring),
		knowledge:   knowSvc,
		registry:    registry,
		memory:      memStore,
		sessions:    sessions,
		frames:      natsFrameSource{nc: nc},
		ringStatus:  rotator.Snapshot,
		logger:      logger,
	})

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.RequestID(),
		mid.OTel("mira-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(1<<20),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE frame streams stay open
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	sessions.stopAll()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
