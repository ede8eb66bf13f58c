package speech

import "github.com/MiraAI/mira-guide/pkg/fn"

// RestTarget is the closed-mouth shape held during silence.
const RestTarget = "viseme_sil"

// visemeTargets maps Polly viseme codes to the avatar's morph targets and
// the base intensity each shape is driven toward. Codes follow Polly's
// viseme speech-mark vocabulary.
var visemeTargets = map[string]struct {
	Target    string
	Intensity float64
}{
	"p":   {"viseme_PP", 0.9},
	"t":   {"viseme_DD", 0.8},
	"S":   {"viseme_CH", 0.85},
	"T":   {"viseme_TH", 0.8},
	"f":   {"viseme_FF", 0.9},
	"k":   {"viseme_kk", 0.8},
	"i":   {"viseme_I", 0.75},
	"r":   {"viseme_RR", 0.7},
	"s":   {"viseme_SS", 0.8},
	"u":   {"viseme_U", 0.85},
	"@":   {"viseme_aa", 0.6},
	"a":   {"viseme_aa", 0.9},
	"e":   {"viseme_E", 0.8},
	"E":   {"viseme_E", 0.75},
	"o":   {"viseme_O", 0.85},
	"O":   {"viseme_O", 0.9},
	"sil": {RestTarget, 1.0},
}

// targetNames is every morph target the scheduler drives, rest included.
var targetNames = func() []string {
	names := make([]string, 0, len(visemeTargets))
	for _, t := range visemeTargets {
		names = append(names, t.Target)
	}
	return fn.Unique(names)
}()

// targetFor resolves a viseme code, falling back to the rest shape for
// codes the avatar has no blend shape for.
func targetFor(code string) (string, float64) {
	if t, ok := visemeTargets[code]; ok {
		return t.Target, t.Intensity
	}
	return RestTarget, 1.0
}
