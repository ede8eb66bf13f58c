package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("answers_total", "Questions answered")
	c.Inc()
	c.Inc()
	c.Add(5)
	if c.Value() != 7 {
		t.Fatalf("expected 7, got %d", c.Value())
	}
	if r.Counter("answers_total", "") != c {
		t.Fatal("same name should return the same counter")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("sessions_active", "")
	g.Set(42)
	g.Inc()
	g.Dec()
	g.Add(0.5)
	if got := g.Value(); got != 42.5 {
		t.Fatalf("expected 42.5, got %g", got)
	}
}

func TestHistogramRender(t *testing.T) {
	r := New()
	h := r.Histogram("answer_seconds", "Answer latency", []float64{0.1, 0.5, 1.0})
	h.Observe(0.05)
	h.Observe(0.3)
	h.Observe(0.8)
	h.Observe(5)

	out := r.Render()
	checks := []string{
		"# TYPE answer_seconds histogram",
		`answer_seconds_bucket{le="0.1"} 1`,
		`answer_seconds_bucket{le="0.5"} 2`,
		`answer_seconds_bucket{le="1"} 3`,
		`answer_seconds_bucket{le="+Inf"} 4`,
		"answer_seconds_count 4",
	}
	for _, want := range checks {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestLabeledSeries(t *testing.T) {
	r := New()
	r.Counter(WithLabels("ingest_docs_total", "source", "curator"), "Docs ingested").Add(3)
	r.Counter(WithLabels("ingest_docs_total", "source", "wikipedia"), "").Inc()

	out := r.Render()
	if !strings.Contains(out, `ingest_docs_total{source="curator"} 3`) {
		t.Errorf("missing curator series:\n%s", out)
	}
	if !strings.Contains(out, `ingest_docs_total{source="wikipedia"} 1`) {
		t.Errorf("missing wikipedia series:\n%s", out)
	}
	if got := strings.Count(out, "# TYPE ingest_docs_total counter"); got != 1 {
		t.Errorf("TYPE line should appear once, got %d", got)
	}
}

func TestWithLabels(t *testing.T) {
	if got := WithLabels("m", "k", "v"); got != `m{k="v"}` {
		t.Errorf("WithLabels = %s", got)
	}
	if got := WithLabels("m", "a", "1", "b", "2"); got != `m{a="1",b="2"}` {
		t.Errorf("WithLabels = %s", got)
	}
	// Odd pair count leaves the name alone.
	if got := WithLabels("m", "only"); got != "m" {
		t.Errorf("WithLabels = %s", got)
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Gauge("up", "").Set(1)
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %s", ct)
	}
	if !strings.Contains(w.Body.String(), "up 1") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHistogramSince(t *testing.T) {
	r := New()
	h := r.Histogram("d_seconds", "", nil)
	h.Since(time.Now().Add(-10 * time.Millisecond))
	_, _, sum, count := h.snapshot()
	if count != 1 || sum <= 0 {
		t.Fatalf("snapshot = sum %g count %d", sum, count)
	}
}

func TestCollectRuntime(t *testing.T) {
	r := New()
	stop := r.CollectRuntime("mira_test", 10*time.Millisecond)
	defer stop()

	if g := r.Gauge("mira_test_runtime_goroutines", ""); g.Value() < 1 {
		t.Errorf("goroutines gauge = %g, want >= 1", g.Value())
	}
	if !strings.Contains(r.Render(), "mira_test_runtime_heap_alloc_bytes") {
		t.Error("heap gauge missing from render")
	}
}
