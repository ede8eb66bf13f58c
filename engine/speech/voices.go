package speech

import "github.com/MiraAI/mira-guide/pkg/tts"

// Named voice personas exposed by the API. Guide is the default and
// speaks Turkish; narrator is the English fallback for foreign visitors.
var voices = map[string]tts.Voice{
	"guide":    {ID: "Filiz", Engine: "standard", Language: "tr-TR"},
	"narrator": {ID: "Joanna", Engine: "neural", Language: "en-US"},
}

// VoiceByName resolves a persona name to a synthesis voice. Unknown or
// empty names fall back to the guide persona.
func VoiceByName(name string) tts.Voice {
	if v, ok := voices[name]; ok {
		return v
	}
	return voices["guide"]
}
