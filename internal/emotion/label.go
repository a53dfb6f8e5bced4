package emotion

import "strings"

// Label is an emotion in the shared uppercase vocabulary.
type Label string

const (
	Joy      Label = "JOY"
	Sadness  Label = "SADNESS"
	Anger    Label = "ANGER"
	Fear     Label = "FEAR"
	Love     Label = "LOVE"
	Surprise Label = "SURPRISE"
	Neutral  Label = "NEUTRAL"
	// Unknown is recorded when no classification could be made.
	Unknown Label = "UNKNOWN"
)

// Vocabulary lists every label a session can be pinned with.
var Vocabulary = []Label{Joy, Sadness, Anger, Fear, Love, Surprise, Neutral, Unknown}

// synonyms folds classifier-specific names onto the shared vocabulary. The
// audio model emits HAPPY/SAD/ANGRY/NEUTRAL, text models emit the six
// distilbert-emotion names in lowercase, LLMs emit whatever they like.
var synonyms = map[string]Label{
	"JOY":       Joy,
	"HAPPY":     Joy,
	"HAPPINESS": Joy,
	"SADNESS":   Sadness,
	"SAD":       Sadness,
	"ANGER":     Anger,
	"ANGRY":     Anger,
	"FEAR":      Fear,
	"FEARFUL":   Fear,
	"SCARED":    Fear,
	"LOVE":      Love,
	"SURPRISE":  Surprise,
	"SURPRISED": Surprise,
	"NEUTRAL":   Neutral,
	"CALM":      Neutral,
	"UNKNOWN":   Unknown,
}

// Normalize maps a raw classifier label into the shared vocabulary.
// Unmappable input yields Unknown.
func Normalize(raw string) Label {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if l, ok := synonyms[key]; ok {
		return l
	}
	return Unknown
}

// Valid reports whether l belongs to the shared vocabulary.
func (l Label) Valid() bool {
	for _, v := range Vocabulary {
		if l == v {
			return true
		}
	}
	return false
}

func (l Label) String() string { return string(l) }
