// Package exhibits is the exhibit registry: QR code lookup, the Neo4j
// exhibit graph with RELATED_TO edges, mention extraction from visitor
// questions, and cross-exhibit recommendations.
package exhibits

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/repo"
)

// Exhibit is one registered museum piece.
type Exhibit struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Year     string `json:"year,omitempty"`
	Category string `json:"category,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// QR plaques carry codes like "qr_07".
var codeRegex = regexp.MustCompile(`^qr_\d{2}$`)

// ParseCode normalizes and validates a scanned QR code.
func ParseCode(raw string) (string, error) {
	code := strings.ToLower(strings.TrimSpace(raw))
	if !codeRegex.MatchString(code) {
		return "", domain.NewValidationError("code", raw, domain.ErrInvalidRequest)
	}
	return code, nil
}

func newExhibitRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Exhibit, string] {
	return repo.NewNeo4jRepo[Exhibit, string](
		driver,
		"Exhibit",
		exhibitToMap,
		exhibitFromRecord,
	)
}

func exhibitToMap(e Exhibit) map[string]any {
	return map[string]any{
		"id":       e.ID,
		"code":     e.Code,
		"title":    e.Title,
		"artist":   e.Artist,
		"year":     e.Year,
		"category": e.Category,
		"summary":  e.Summary,
	}
}

func exhibitFromRecord(rec *neo4j.Record) (Exhibit, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Exhibit{}, fmt.Errorf("exhibit record: %w", err)
	}
	return exhibitFromProps(node.Props), nil
}

func exhibitFromProps(props map[string]any) Exhibit {
	return Exhibit{
		ID:       strProp(props, "id"),
		Code:     strProp(props, "code"),
		Title:    strProp(props, "title"),
		Artist:   strProp(props, "artist"),
		Year:     strProp(props, "year"),
		Category: strProp(props, "category"),
		Summary:  strProp(props, "summary"),
	}
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}
