package emotion

import (
	"context"
	"strings"
	"unicode"
)

// lexiconOrder fixes the tie-break between buckets.
var lexiconOrder = []Label{Joy, Sadness, Anger, Fear, Love, Surprise}

var keywordBuckets = map[Label][]string{
	Joy: {
		"happy", "glad", "great", "good", "awesome", "amazing", "wonderful", "fantastic", "excited",
		"joy", "joyful", "delighted", "cheerful", "thrilled", "fun", "yay", "lol", "haha", "proud",
		"grateful", "thanks", "thank you", "celebrate", "best day", "feel good", "feeling good",
	},
	Sadness: {
		"sad", "unhappy", "depressed", "down", "lonely", "alone", "cry", "crying", "cried", "miss",
		"hurt", "heartbroken", "upset", "tired", "hopeless", "empty", "grief", "lost", "sorrow",
		"miserable", "disappointed", "feel low", "feeling low", "broke up", "passed away",
	},
	Anger: {
		"angry", "mad", "furious", "annoyed", "irritated", "hate", "rage", "pissed", "frustrated",
		"frustrating", "outraged", "fed up", "sick of", "unfair", "livid", "resent",
	},
	Fear: {
		"afraid", "scared", "fear", "terrified", "anxious", "anxiety", "nervous", "worried", "worry",
		"panic", "panicking", "frightened", "stressed", "dread", "uneasy", "what if",
	},
	Love: {
		"love", "loved", "loving", "adore", "crush", "darling", "sweetheart", "romantic", "affection",
		"caring", "in love", "my partner", "my girlfriend", "my boyfriend", "miss you",
	},
	Surprise: {
		"surprised", "surprise", "shocked", "shocking", "wow", "whoa", "unexpected", "unbelievable",
		"astonished", "amazed", "can't believe", "cannot believe", "out of nowhere", "no way",
	},
}

// Lexicon is an offline keyword classifier. It labels text with the same
// lowercase names the hosted emotion models use, and "neutral" when nothing matches.
type Lexicon struct {
	words   map[string][]Label
	phrases map[string][]Label
}

func NewLexicon() *Lexicon {
	l := &Lexicon{words: make(map[string][]Label), phrases: make(map[string][]Label)}
	for _, label := range lexiconOrder {
		for _, kw := range keywordBuckets[label] {
			if strings.Contains(kw, " ") {
				l.phrases[kw] = append(l.phrases[kw], label)
			} else {
				l.words[kw] = append(l.words[kw], label)
			}
		}
	}
	return l
}

func (l *Lexicon) Classify(_ context.Context, text string) (string, float64, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return "neutral", 0.3, nil
	}
	joined := " " + strings.Join(tokens, " ") + " "

	scores := make(map[Label]int)
	for _, tok := range tokens {
		for _, label := range l.words[tok] {
			scores[label] += 3
		}
	}
	for phrase, labels := range l.phrases {
		if strings.Contains(joined, " "+phrase+" ") {
			for _, label := range labels {
				scores[label] += 4
			}
		}
	}
	if strings.Contains(text, "?!") || strings.Contains(text, "!?") {
		scores[Surprise] += 2
	}

	best, bestScore, total := Neutral, 0, 0
	for _, label := range lexiconOrder {
		s := scores[label]
		total += s
		if s > bestScore {
			best, bestScore = label, s
		}
	}
	if bestScore == 0 {
		return "neutral", 0.3, nil
	}
	confidence := 0.5 + 0.5*float64(bestScore)/float64(total)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return strings.ToLower(best.String()), confidence, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
