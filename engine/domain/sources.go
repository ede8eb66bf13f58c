package domain

import "strings"

// ValidSources enumerates accepted ingestion sources.
var ValidSources = map[string]bool{
	"curator":   true,
	"wikipedia": true,
	"catalog":   true,
	"plaque":    true,
	"archive":   true,
}

// validSource returns true if the source is known. Sources with prefixes
// like "wikipedia:" are accepted (e.g., "wikipedia:tr", "archive:1998").
func validSource(src string) bool {
	if ValidSources[src] {
		return true
	}
	for base := range ValidSources {
		if strings.HasPrefix(src, base+":") {
			return true
		}
	}
	return false
}
