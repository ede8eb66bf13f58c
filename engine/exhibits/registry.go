package exhibits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/repo"
)

// result and runner mirror the seams pkg/repo uses, so registry queries are
// testable without a live Neo4j.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

// Registry persists exhibits and their RELATED_TO edges in Neo4j. CRUD goes
// through the generic repository; graph traversals use direct cypher.
type Registry struct {
	driver     neo4j.DriverWithContext
	exhibits   *repo.Neo4jRepo[Exhibit, string]
	logger     *slog.Logger
	newSession func(ctx context.Context) runner // injectable for tests
}

// NewRegistry creates the exhibit registry.
func NewRegistry(driver neo4j.DriverWithContext, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		driver:   driver,
		exhibits: newExhibitRepo(driver),
		logger:   logger,
	}
}

func (r *Registry) session(ctx context.Context) runner {
	if r.newSession != nil {
		return r.newSession(ctx)
	}
	return &sessionAdapter{sess: r.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// Save upserts an exhibit node.
func (r *Registry) Save(ctx context.Context, e Exhibit) (Exhibit, error) {
	saved, err := r.exhibits.Save(ctx, e)
	if err != nil {
		return Exhibit{}, fmt.Errorf("exhibits: save %s: %w", e.ID, err)
	}
	return saved, nil
}

// Get returns an exhibit by id; unknown ids map to domain.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (Exhibit, error) {
	e, err := r.exhibits.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return Exhibit{}, fmt.Errorf("exhibit %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return Exhibit{}, fmt.Errorf("exhibits: get %s: %w", id, err)
	}
	return e, nil
}

// List pages through exhibits ordered by id, restricted to one category
// when given.
func (r *Registry) List(ctx context.Context, category string, offset, limit int) ([]Exhibit, error) {
	opts := repo.ListOpts{Offset: offset, Limit: limit}
	if category != "" {
		opts.Filter = map[string]any{"category": category}
	}
	items, err := r.exhibits.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("exhibits: list: %w", err)
	}
	return items, nil
}

// Remove deletes an exhibit node together with its RELATED_TO edges.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if err := r.exhibits.Delete(ctx, id); err != nil {
		return fmt.Errorf("exhibits: remove %s: %w", id, err)
	}
	return nil
}

// ByCode resolves a validated QR code to its exhibit.
func (r *Registry) ByCode(ctx context.Context, code string) (Exhibit, error) {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, `MATCH (n:Exhibit {code: $code}) RETURN n LIMIT 1`,
		map[string]any{"code": code})
	if err != nil {
		return Exhibit{}, fmt.Errorf("exhibits: by code %s: %w", code, err)
	}
	if !res.Next(ctx) {
		return Exhibit{}, fmt.Errorf("code %s: %w", code, domain.ErrNotFound)
	}
	return exhibitFromRecord(res.Record())
}

// Relate merges a RELATED_TO edge between two exhibits. The graph treats
// relatedness as undirected; one stored edge covers both directions.
func (r *Registry) Relate(ctx context.Context, a, b string) error {
	if a == b {
		return nil
	}
	sess := r.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx,
		`MATCH (a:Exhibit {id: $a}), (b:Exhibit {id: $b})
		 MERGE (a)-[:RELATED_TO]-(b)`,
		map[string]any{"a": a, "b": b})
	if err != nil {
		return fmt.Errorf("exhibits: relate %s-%s: %w", a, b, err)
	}
	return nil
}

// Related returns neighbors over RELATED_TO edges, falling back to
// same-category exhibits when the node has no edges yet.
func (r *Registry) Related(ctx context.Context, id string, limit int) ([]Exhibit, error) {
	if limit <= 0 {
		limit = 5
	}
	sess := r.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (e:Exhibit {id: $id})-[:RELATED_TO]-(n:Exhibit)
		 RETURN DISTINCT n LIMIT $limit`,
		map[string]any{"id": id, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("exhibits: related %s: %w", id, err)
	}
	found, err := collect(ctx, res)
	if err != nil {
		return nil, err
	}
	if len(found) > 0 {
		return found, nil
	}

	res, err = sess.Run(ctx,
		`MATCH (e:Exhibit {id: $id}), (n:Exhibit)
		 WHERE n.category = e.category AND n.id <> $id
		 RETURN n LIMIT $limit`,
		map[string]any{"id": id, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("exhibits: same-category %s: %w", id, err)
	}
	return collect(ctx, res)
}

// Unlinked returns exhibits with no RELATED_TO edge. cmd/backfill links them.
func (r *Registry) Unlinked(ctx context.Context) ([]Exhibit, error) {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (n:Exhibit) WHERE NOT (n)-[:RELATED_TO]-() RETURN n`, nil)
	if err != nil {
		return nil, fmt.Errorf("exhibits: unlinked: %w", err)
	}
	return collect(ctx, res)
}

// Stats summarizes the registry for the status endpoint and the answer
// pipeline's museum-stats context line.
type Stats struct {
	Total      int64            `json:"total"`
	ByCategory map[string]int64 `json:"by_category"`
}

// Stats counts exhibits overall and per category.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	sess := r.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		`MATCH (n:Exhibit) RETURN n.category AS category, count(n) AS cnt`, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("exhibits: stats: %w", err)
	}

	stats := Stats{ByCategory: map[string]int64{}}
	for res.Next(ctx) {
		rec := res.Record()
		category := ""
		if v, ok := rec.Get("category"); ok && v != nil {
			category, _ = v.(string)
		}
		var cnt int64
		if v, ok := rec.Get("cnt"); ok && v != nil {
			cnt, _ = v.(int64)
		}
		if category == "" {
			category = "uncategorized"
		}
		stats.ByCategory[category] += cnt
		stats.Total += cnt
	}
	return stats, nil
}

func collect(ctx context.Context, res result) ([]Exhibit, error) {
	var out []Exhibit
	for res.Next(ctx) {
		rec := res.Record()
		v, ok := rec.Get("n")
		if !ok {
			continue
		}
		node, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		out = append(out, exhibitFromProps(node.Props))
	}
	return out, nil
}
