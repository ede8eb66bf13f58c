package tts

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// speechMark is one line of Polly's JSON speech-mark stream.
type speechMark struct {
	Time  int64  `json:"time"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// ParseSpeechMarks reads Polly's line-delimited speech marks and keeps the
// viseme ones, ordered by offset. Word and sentence marks are ignored.
func ParseSpeechMarks(r io.Reader) ([]VisemeEvent, error) {
	var events []VisemeEvent
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var mark speechMark
		if err := json.Unmarshal([]byte(raw), &mark); err != nil {
			return nil, fmt.Errorf("speech mark line %d: %w", line, err)
		}
		if mark.Type != "viseme" {
			continue
		}
		events = append(events, VisemeEvent{
			Code:   mark.Value,
			Offset: time.Duration(mark.Time) * time.Millisecond,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("speech marks: %w", err)
	}

	// Polly emits marks in order already; keep the guarantee anyway.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Offset < events[j].Offset
	})
	return events, nil
}
