package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type fakeResult struct {
	records []*neo4j.Record
	pos     int
}

func (r *fakeResult) Next(context.Context) bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeResult) Record() *neo4j.Record { return r.records[r.pos-1] }

type fakeRunner struct {
	lastCypher string
	lastParams map[string]any
	records    []*neo4j.Record
	err        error
	closed     bool
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	f.lastCypher = cypher
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &fakeResult{records: f.records}, nil
}

func (f *fakeRunner) Close(context.Context) error {
	f.closed = true
	return nil
}

type city struct {
	ID   string
	Name string
}

func nodeRecord(props map[string]any) *neo4j.Record {
	return &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{neo4j.Node{Props: props}},
	}
}

func cityRepo(f *fakeRunner) *Neo4jRepo[city, string] {
	r := NewNeo4jRepo[city, string](
		nil,
		"City",
		func(c city) map[string]any {
			return map[string]any{"id": c.ID, "name": c.Name}
		},
		func(rec *neo4j.Record) (city, error) {
			v, _ := rec.Get("n")
			node, ok := v.(neo4j.Node)
			if !ok {
				return city{}, errors.New("record is not a node")
			}
			c := city{}
			if s, ok := node.Props["id"].(string); ok {
				c.ID = s
			}
			if s, ok := node.Props["name"].(string); ok {
				c.Name = s
			}
			return c, nil
		},
	)
	r.newSession = func(context.Context) runner { return f }
	return r
}

func TestGet(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{nodeRecord(map[string]any{"id": "ank", "name": "Ankara"})}}
	r := cityRepo(f)

	c, err := r.Get(context.Background(), "ank")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Name != "Ankara" {
		t.Errorf("name = %q", c.Name)
	}
	if !strings.Contains(f.lastCypher, "MATCH (n:City {id: $id})") {
		t.Errorf("cypher = %s", f.lastCypher)
	}
	if !f.closed {
		t.Error("session should be closed")
	}
}

func TestGetNotFound(t *testing.T) {
	r := cityRepo(&fakeRunner{})
	_, err := r.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListWithFilter(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{
		nodeRecord(map[string]any{"id": "a", "name": "A"}),
		nodeRecord(map[string]any{"id": "b", "name": "B"}),
	}}
	r := cityRepo(f)

	items, err := r.List(context.Background(), ListOpts{Filter: map[string]any{"name": "A"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("items = %d", len(items))
	}
	if !strings.Contains(f.lastCypher, "WHERE n.name = $f_name") {
		t.Errorf("cypher = %s", f.lastCypher)
	}
	if f.lastParams["f_name"] != "A" {
		t.Errorf("params = %v", f.lastParams)
	}
	if f.lastParams["limit"] != 100 {
		t.Errorf("default limit missing: %v", f.lastParams)
	}
}

func TestSaveUsesMerge(t *testing.T) {
	f := &fakeRunner{records: []*neo4j.Record{nodeRecord(map[string]any{"id": "ank"})}}
	r := cityRepo(f)

	if _, err := r.Save(context.Background(), city{ID: "ank", Name: "Ankara"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(f.lastCypher, "MERGE (n:City {id: $id})") {
		t.Errorf("cypher = %s", f.lastCypher)
	}
	if f.lastParams["id"] != "ank" {
		t.Errorf("params = %v", f.lastParams)
	}
}

func TestDeleteDetaches(t *testing.T) {
	f := &fakeRunner{}
	r := cityRepo(f)
	if err := r.Delete(context.Background(), "ank"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(f.lastCypher, "DETACH DELETE") {
		t.Errorf("cypher = %s", f.lastCypher)
	}
}

func TestRunError(t *testing.T) {
	boom := errors.New("connection refused")
	r := cityRepo(&fakeRunner{err: boom})
	if _, err := r.Get(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("expected run error, got %v", err)
	}
}

func TestWithIDKey(t *testing.T) {
	r := NewNeo4jRepo[city, string](nil, "City", nil, nil, WithIDKey[city, string]("code"))
	if r.idKey != "code" {
		t.Errorf("idKey = %s", r.idKey)
	}
}
