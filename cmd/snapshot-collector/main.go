// Command snapshot-collector fetches a status snapshot from the API,
// computes deltas against the previous run, and writes JSON files for the
// museum operations dashboard.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MiraAI/mira-guide/pkg/fn"
)

// Snapshot mirrors the /api/v1/status response, with the frame and answer
// counters scraped from the metrics endpoint folded in.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Chunks    uint64    `json:"chunks"`
	Exhibits  struct {
		Total      int64            `json:"total"`
		ByCategory map[string]int64 `json:"by_category"`
	} `json:"exhibits"`
	Credentials struct {
		Labels []string `json:"labels"`
		Active int      `json:"active"`
	} `json:"credentials"`
	UptimeS    int64   `json:"uptime_s"`
	Answers    float64 `json:"answers"`
	Ungrounded float64 `json:"ungrounded"`
	Utterances float64 `json:"utterances"`
	Frames     float64 `json:"frames"`
}

// Delta represents changes between two consecutive snapshots.
type Delta struct {
	Timestamp     time.Time        `json:"timestamp"`
	Period        string           `json:"period"`
	NewChunks     int64            `json:"new_chunks"`
	NewExhibits   int64            `json:"new_exhibits"`
	NewAnswers    float64          `json:"new_answers"`
	NewUngrounded float64          `json:"new_ungrounded"`
	NewUtterances float64          `json:"new_utterances"`
	ByCategory    map[string]int64 `json:"by_category"`
	Restarted     bool             `json:"restarted"`
}

const maxHistory = 288

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "API base URL")
	metricsURL := flag.String("metrics", "http://localhost:9090", "metrics base URL")
	docsDir := flag.String("docs-dir", "docs", "docs directory for output")
	period := flag.String("period", "5m", "label for the collection period")
	flag.Parse()

	dataDir := filepath.Join(*docsDir, "data")
	os.MkdirAll(dataDir, 0o755)

	latestPath := filepath.Join(dataDir, "status-latest.json")
	historyPath := filepath.Join(dataDir, "status-history.json")
	prevPath := filepath.Join(dataDir, ".status-prev.json")

	current, err := collect(*apiURL, *metricsURL)
	if err != nil {
		log.Fatalf("collect: %v", err)
	}

	var prev Snapshot
	if data, err := os.ReadFile(prevPath); err == nil {
		json.Unmarshal(data, &prev)
	}

	delta := Delta{
		Timestamp:     current.Timestamp,
		Period:        *period,
		NewChunks:     int64(current.Chunks) - int64(prev.Chunks),
		NewExhibits:   current.Exhibits.Total - prev.Exhibits.Total,
		NewAnswers:    current.Answers - prev.Answers,
		NewUngrounded: current.Ungrounded - prev.Ungrounded,
		NewUtterances: current.Utterances - prev.Utterances,
		ByCategory:    make(map[string]int64),
		Restarted:     current.UptimeS < prev.UptimeS,
	}
	for k, v := range current.Exhibits.ByCategory {
		delta.ByCategory[k] = v - prev.Exhibits.ByCategory[k]
	}
	// Counter resets after a restart would read as negative traffic.
	if delta.Restarted {
		delta.NewAnswers = current.Answers
		delta.NewUngrounded = current.Ungrounded
		delta.NewUtterances = current.Utterances
	}

	writeJSON(latestPath, current)

	var history []Delta
	if data, err := os.ReadFile(historyPath); err == nil {
		json.Unmarshal(data, &history)
	}
	history = append(history, delta)
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	writeJSON(historyPath, history)
	writeJSON(prevPath, current)

	fmt.Printf("Snapshot at %s (chunks: %d, exhibits: %d, answers: %.0f)\n",
		current.Timestamp.Format(time.RFC3339), current.Chunks, current.Exhibits.Total, current.Answers)
	fmt.Printf("Delta: +%d chunks, +%d exhibits, +%.0f answers, +%.0f utterances\n",
		delta.NewChunks, delta.NewExhibits, delta.NewAnswers, delta.NewUtterances)
}

func collect(apiURL, metricsURL string) (Snapshot, error) {
	var snap Snapshot
	snap.Timestamp = time.Now().UTC()

	// Both endpoints answer independently; fetch them concurrently. A
	// dead metrics endpoint degrades the snapshot instead of failing it.
	bodies, err := fn.Gather(
		func() fn.Result[[]byte] {
			return fn.Of(fetch(apiURL + "/api/v1/status")).Context("status")
		},
		func() fn.Result[[]byte] {
			b, err := fetch(metricsURL + "/metrics")
			if err != nil {
				log.Printf("metrics fetch failed: %v", err)
				return fn.Ok([]byte(nil))
			}
			return fn.Ok(b)
		},
	).Unwrap()
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(bodies[0], &snap); err != nil {
		return snap, fmt.Errorf("parse status: %w", err)
	}
	if len(bodies[1]) == 0 {
		return snap, nil
	}
	counters := parseCounters(string(bodies[1]))
	snap.Answers = counters["answer_requests_total"]
	snap.Ungrounded = counters["answer_ungrounded_total"]
	snap.Utterances = counters["speech_utterances_total"]
	snap.Frames = counters["speech_frames_total"]
	return snap, nil
}

func fetch(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("returned %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// parseCounters reads prometheus text lines "name value" for unlabeled
// metrics.
func parseCounters(text string) map[string]float64 {
	type sample struct {
		name  string
		value float64
	}
	samples := fn.FilterMap(strings.Split(text, "\n"), func(line string) (sample, bool) {
		if line == "" || strings.HasPrefix(line, "#") {
			return sample{}, false
		}
		name, value, found := strings.Cut(line, " ")
		if !found || strings.Contains(name, "{") {
			return sample{}, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return sample{}, false
		}
		return sample{name: name, value: f}, true
	})
	out := make(map[string]float64, len(samples))
	for _, s := range samples {
		out[s.name] = s.value
	}
	return out
}

func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
}
