package exhibits

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mention is one exhibit reference found in free text.
type Mention struct {
	ExhibitID  string
	Span       string
	Confidence float64
}

// aliases maps surface forms (Turkish and English) to exhibit ids. Longer
// aliases win when spans overlap.
var aliases = map[string]string{
	"mona lisa":             "mona_lisa",
	"la gioconda":           "mona_lisa",
	"la joconde":            "mona_lisa",
	"starry night":          "starry_night",
	"yıldızlı gece":         "starry_night",
	"the scream":            "the_scream",
	"çığlık":                "the_scream",
	"girl with a pearl earring": "pearl_earring",
	"inci küpeli kız":       "pearl_earring",
	"the night watch":       "night_watch",
	"gece devriyesi":        "night_watch",
	"guernica":              "guernica",
	"the persistence of memory": "persistence_of_memory",
	"belleğin azmi":         "persistence_of_memory",
	"eriyen saatler":        "persistence_of_memory",
	"david":                 "david",
	"davut heykeli":         "david",
	"venus de milo":         "venus_de_milo",
	"milo venüsü":           "venus_de_milo",
	"the kiss":              "the_kiss",
	"öpücük":                "the_kiss",
	"water lilies":          "water_lilies",
	"nilüferler":            "water_lilies",
	"the thinker":           "the_thinker",
	"düşünen adam":          "the_thinker",
	"american gothic":       "american_gothic",
	"kaplumbağa terbiyecisi": "tortoise_trainer",
	"the tortoise trainer":  "tortoise_trainer",
}

func turkishLower(s string) string {
	return cases.Lower(language.Turkish).String(s)
}

// lookup maps lowered surface forms to exhibit ids. Each alias also gets
// the form Turkish lowering produces from its upper-cased spelling, so
// "STARRY NIGHT", which lowers to "starry nıght", still resolves.
var lookup = func() map[string]string {
	m := make(map[string]string, 2*len(aliases))
	for a, id := range aliases {
		m[a] = id
		m[turkishLower(strings.ToUpper(a))] = id
	}
	return m
}()

// mentionRe alternates every surface form, longest first, so "mona lisa"
// beats a hypothetical shorter overlap. Matching is case-sensitive against
// text that Extract has already lowercased.
var mentionRe = func() *regexp.Regexp {
	forms := make([]string, 0, len(lookup))
	for f := range lookup {
		forms = append(forms, f)
	}
	sort.Slice(forms, func(i, j int) bool {
		if len(forms[i]) != len(forms[j]) {
			return len(forms[i]) > len(forms[j])
		}
		return forms[i] < forms[j]
	})
	for i, f := range forms {
		forms[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(`(` + strings.Join(forms, "|") + `)`)
}()

// Extract finds exhibit mentions in text, one per exhibit, ordered by
// position of first sighting. The text is lowered with Turkish casing
// first; regexp's (?i) simple folding maps I to i, never to ı, so
// upper-cased Turkish aliases would otherwise slip past the table.
func Extract(text string) []Mention {
	if text == "" {
		return nil
	}
	lowered := turkishLower(text)
	locs := mentionRe.FindAllStringIndex(lowered, -1)
	seen := map[string]bool{}
	var out []Mention
	for _, loc := range locs {
		span := lowered[loc[0]:loc[1]]
		id := lookup[span]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Mention{
			ExhibitID:  id,
			Span:       span,
			Confidence: spanConfidence(lowered, loc[0], loc[1]),
		})
	}
	return out
}

// spanConfidence scores a match higher when it sits on clean word
// boundaries. Aliases inside longer words ("davidson") score low.
func spanConfidence(text string, start, end int) float64 {
	boundedLeft := start == 0 || !isWordByte(text[start-1])
	boundedRight := end == len(text) || !isWordByte(text[end])
	switch {
	case boundedLeft && boundedRight:
		return 0.95
	case boundedLeft || boundedRight:
		return 0.6
	default:
		return 0.3
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

// comparison keywords, Turkish and English.
var comparisonWords = []string{
	"karşılaştır", "kıyasla", "fark", "benzer", "arasında",
	"compare", "comparison", "difference", "versus", " vs ", "similar to",
}

// HasComparisonIntent reports whether the question asks to relate the
// active exhibit to another one.
func HasComparisonIntent(text string) bool {
	// Both lowerings, so "KARŞILAŞTIR" and "DIFFERENCE" each find their
	// keyword.
	tr := turkishLower(text)
	ascii := strings.ToLower(text)
	for _, w := range comparisonWords {
		if strings.Contains(tr, w) || strings.Contains(ascii, w) {
			return true
		}
	}
	return false
}
