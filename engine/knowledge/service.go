// Package knowledge is the exhibit knowledge store: it chunks curator text,
// embeds the chunks, and serves similarity queries scoped to an exhibit.
// Retrieval failures are soft; callers answer ungrounded when the index is
// down.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/embed"
	"github.com/MiraAI/mira-guide/pkg/fn"
	"github.com/MiraAI/mira-guide/pkg/metrics"
	"github.com/MiraAI/mira-guide/pkg/resilience"
)

// VectorIndex abstracts the vector database behind the service.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []domain.ExhibitChunk) error
	Search(ctx context.Context, vector []float32, topK int, exhibitID string) ([]domain.ScoredChunk, error)
	PurgeExhibit(ctx context.Context, exhibitID string) (int, error)
	Count(ctx context.Context) (uint64, error)
}

// Service runs the ingest pipeline and guarded queries.
type Service struct {
	embedder embed.Embedder
	index    VectorIndex
	chunker  Chunker
	breaker  *resilience.Breaker
	logger   *slog.Logger

	ingested *metrics.Counter
	queries  *metrics.Counter
	degraded *metrics.Counter
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithChunker overrides the chunking policy.
func WithChunker(c Chunker) ServiceOption {
	return func(s *Service) { s.chunker = c }
}

// WithBreaker replaces the query circuit breaker.
func WithBreaker(b *resilience.Breaker) ServiceOption {
	return func(s *Service) { s.breaker = b }
}

// NewService creates the knowledge service. reg may be nil.
func NewService(embedder embed.Embedder, index VectorIndex, logger *slog.Logger, reg *metrics.Registry, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		embedder: embedder,
		index:    index,
		chunker:  DefaultChunker,
		breaker:  resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	if reg != nil {
		s.ingested = reg.Counter("knowledge_chunks_ingested_total", "Chunks stored in the index")
		s.queries = reg.Counter("knowledge_queries_total", "Similarity queries served")
		s.degraded = reg.Counter("knowledge_queries_degraded_total", "Queries that failed and degraded to ungrounded answers")
	}
	return s
}

// --- pipeline stages ---

type chunkedJob struct {
	job   domain.IngestJob
	texts []string
}

type embeddedJob struct {
	chunkedJob
	vectors [][]float32
}

func (s *Service) chunkStage() fn.Stage[domain.IngestJob, chunkedJob] {
	return func(_ context.Context, job domain.IngestJob) fn.Result[chunkedJob] {
		texts := s.chunker.Split(job.Text)
		if len(texts) == 0 {
			return fn.Errf[chunkedJob]("chunk %s: no content", job.ExhibitID)
		}
		return fn.Ok(chunkedJob{job: job, texts: texts})
	}
}

// EmbedBatchSize caps one EmbedBatch call. The embedding APIs reject
// requests over 100 entries, so long texts go through in runs.
const EmbedBatchSize = 100

// embedWorkers bounds concurrent EmbedBatch calls for one job.
const embedWorkers = 2

func (s *Service) embedStage() fn.Stage[chunkedJob, embeddedJob] {
	embedRun := fn.Stage[[]string, [][]float32](func(ctx context.Context, run []string) fn.Result[[][]float32] {
		vs, err := s.embedder.EmbedBatch(ctx, run)
		if err != nil {
			return fn.Err[[][]float32](fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err))
		}
		if len(vs) != len(run) {
			return fn.Errf[[][]float32]("embed: %d vectors for %d chunks", len(vs), len(run))
		}
		return fn.Ok(vs)
	})
	runs := fn.Batch(embedWorkers, embedRun)
	return func(ctx context.Context, c chunkedJob) fn.Result[embeddedJob] {
		r := runs(ctx, fn.Chunk(c.texts, EmbedBatchSize))
		if r.Failed() {
			_, err := r.Unwrap()
			return fn.Err[embeddedJob](fmt.Errorf("embed %s: %w", c.job.ExhibitID, err))
		}
		batches, _ := r.Unwrap()
		vectors := make([][]float32, 0, len(c.texts))
		for _, vs := range batches {
			vectors = append(vectors, vs...)
		}
		return fn.Ok(embeddedJob{chunkedJob: c, vectors: vectors})
	}
}

func (s *Service) assembleStage() fn.Stage[embeddedJob, []domain.ExhibitChunk] {
	return fn.Lift(func(e embeddedJob) []domain.ExhibitChunk {
		chunks := make([]domain.ExhibitChunk, len(e.texts))
		for i, text := range e.texts {
			// Point ids derive from the job id so a redelivered job lands
			// on the same points instead of appending another copy.
			id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", e.job.ID, i))).String()
			chunks[i] = domain.ExhibitChunk{
				ID:        id,
				ExhibitID: e.job.ExhibitID,
				Text:      text,
				Embedding: e.vectors[i],
				Seq:       i,
				Source:    e.job.Source,
			}
		}
		return chunks
	})
}

func (s *Service) storeStage() fn.Stage[[]domain.ExhibitChunk, int] {
	return func(ctx context.Context, chunks []domain.ExhibitChunk) fn.Result[int] {
		if err := s.index.Upsert(ctx, chunks); err != nil {
			return fn.Err[int](err)
		}
		return fn.Ok(len(chunks))
	}
}

// Ingest chunks, embeds, and stores one exhibit text, returning the chunk
// count. Re-ingesting appends; callers purge first when replacing.
func (s *Service) Ingest(ctx context.Context, job domain.IngestJob) (int, error) {
	if err := domain.ValidateIngest(job); err != nil {
		return 0, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	embedded := fn.Tap(func(_ context.Context, e embeddedJob) {
		s.logger.Debug("chunks embedded", "exhibit_id", e.job.ExhibitID, "chunks", len(e.texts))
	})
	pipeline := fn.Then(s.chunkStage(),
		fn.Then(s.embedStage(),
			fn.Then(embedded,
				fn.Then(s.assembleStage(), s.storeStage()))))
	n, err := fn.WithSpan("knowledge.ingest", pipeline)(ctx, job).Unwrap()
	if err != nil {
		return 0, fmt.Errorf("ingest %s: %w", job.ExhibitID, err)
	}

	if s.ingested != nil {
		s.ingested.Add(int64(n))
	}
	s.logger.Info("exhibit ingested", "exhibit_id", job.ExhibitID, "chunks", n, "source", job.Source)
	return n, nil
}

// Query embeds the question and searches the index, restricted to exhibitID
// when given. Any failure surfaces as ErrStoreUnavailable so callers can
// degrade instead of aborting.
func (s *Service) Query(ctx context.Context, question, exhibitID string, topK int) (domain.RetrievalResult, error) {
	if s.queries != nil {
		s.queries.Inc()
	}
	if topK <= 0 {
		topK = 5
	}

	result := resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[domain.RetrievalResult] {
		vector, err := s.embedder.Embed(ctx, question)
		if err != nil {
			return fn.Err[domain.RetrievalResult](err)
		}
		hits, err := s.index.Search(ctx, vector, topK, exhibitID)
		if err != nil {
			return fn.Err[domain.RetrievalResult](err)
		}
		return fn.Ok(domain.RetrievalResult(hits))
	})

	hits, err := result.Unwrap()
	if err != nil {
		if s.degraded != nil {
			s.degraded.Inc()
		}
		s.logger.Warn("retrieval degraded", "exhibit_id", exhibitID, "err", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return hits, nil
}

// Purge removes all chunks for an exhibit and returns how many went away.
func (s *Service) Purge(ctx context.Context, exhibitID string) (int, error) {
	n, err := s.index.PurgeExhibit(ctx, exhibitID)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", exhibitID, err)
	}
	s.logger.Info("exhibit purged", "exhibit_id", exhibitID, "chunks", n)
	return n, nil
}

// ChunkTotal reports the index size for the status endpoint.
func (s *Service) ChunkTotal(ctx context.Context) (uint64, error) {
	return s.index.Count(ctx)
}
