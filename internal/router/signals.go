package router

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/store"
)

// SignalVector is the fixed set of normalized routing inputs extracted from a
// record. Every field is in [0,1].
type SignalVector struct {
	SuccessScore       float64 `json:"success_score"`
	RepetitionSignal   float64 `json:"repetition_signal"`
	Criticality        float64 `json:"criticality"`
	PatternNovelty     float64 `json:"pattern_novelty"`
	ContextRichness    float64 `json:"context_richness"`
	EmotionalIntensity float64 `json:"emotional_intensity"`
	TemporalUrgency    float64 `json:"temporal_urgency"`
}

// Dot computes the weighted sum of the signals under a weight set.
func (s SignalVector) Dot(w config.SignalWeights) float64 {
	return s.SuccessScore*w.SuccessScore +
		s.RepetitionSignal*w.RepetitionSignal +
		s.Criticality*w.Criticality +
		s.PatternNovelty*w.PatternNovelty +
		s.ContextRichness*w.ContextRichness +
		s.EmotionalIntensity*w.EmotionalIntensity +
		s.TemporalUrgency*w.TemporalUrgency
}

// Invert flips every signal (1-x). Used by the decay rule, which scores
// absence of value rather than presence.
func (s SignalVector) Invert() SignalVector {
	return SignalVector{
		SuccessScore:       1 - s.SuccessScore,
		RepetitionSignal:   1 - s.RepetitionSignal,
		Criticality:        1 - s.Criticality,
		PatternNovelty:     1 - s.PatternNovelty,
		ContextRichness:    1 - s.ContextRichness,
		EmotionalIntensity: 1 - s.EmotionalIntensity,
		TemporalUrgency:    1 - s.TemporalUrgency,
	}
}

// Extractor computes signal vectors from records. Extraction is a pure
// function of the record's content and counters, so results are cached per
// id+version: a retried job always sees the signals its first attempt saw.
type Extractor struct {
	cache *ristretto.Cache
}

// NewExtractor creates an extractor with a bounded signal cache.
func NewExtractor(cacheEntries int64) (*Extractor, error) {
	if cacheEntries <= 0 {
		cacheEntries = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheEntries * 10,
		MaxCost:     cacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("signal cache: %w", err)
	}
	return &Extractor{cache: cache}, nil
}

// Extract computes the seven routing signals for a record.
func (e *Extractor) Extract(rec *store.Record) SignalVector {
	key := fmt.Sprintf("%s@%d", rec.ID, rec.Version)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if sv, ok := v.(SignalVector); ok {
				return sv
			}
		}
	}

	sv := extract(rec)
	if e.cache != nil {
		e.cache.Set(key, sv, 1)
	}
	return sv
}

// Close releases the signal cache.
func (e *Extractor) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

func extract(rec *store.Record) SignalVector {
	tokens := tokenize(rec.Content)

	return SignalVector{
		SuccessScore:       clamp01(rec.SuccessScore),
		RepetitionSignal:   repetitionSignal(rec.RepetitionCount),
		Criticality:        clamp01(rec.Criticality),
		PatternNovelty:     lexicalDiversity(tokens),
		ContextRichness:    contextRichness(tokens),
		EmotionalIntensity: lexiconDensity(tokens, emotionLexicon, 8),
		TemporalUrgency:    lexiconDensity(tokens, urgencyLexicon, 16),
	}
}

// repetitionSignal saturates at 10 occurrences.
func repetitionSignal(count int) float64 {
	if count >= 10 {
		return 1.0
	}
	if count < 0 {
		return 0
	}
	return float64(count) / 10.0
}

// lexicalDiversity is the type/token ratio, a rough novelty proxy:
// repetitive content scores low, varied content scores high.
func lexicalDiversity(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		seen[t] = true
	}
	return float64(len(seen)) / float64(len(tokens))
}

// contextRichness saturates at 256 tokens of content.
func contextRichness(tokens []string) float64 {
	richness := float64(len(tokens)) / 256.0
	return clamp01(richness)
}

// lexiconDensity is the fraction of tokens in the lexicon, scaled so a small
// number of hits in short content still registers.
func lexiconDensity(tokens []string, lexicon map[string]bool, scale float64) float64 {
	if len(tokens) == 0 {
		return 0
	}
	hits := 0
	for _, t := range tokens {
		if lexicon[t] {
			hits++
		}
	}
	return clamp01(float64(hits) / float64(len(tokens)) * scale)
}

var emotionLexicon = map[string]bool{
	"love": true, "hate": true, "happy": true, "sad": true, "angry": true,
	"scared": true, "afraid": true, "excited": true, "anxious": true,
	"wonderful": true, "terrible": true, "amazing": true, "awful": true,
	"cry": true, "crying": true, "laugh": true, "laughing": true,
	"miss": true, "missed": true, "proud": true, "ashamed": true,
	"grateful": true, "lonely": true, "hurt": true, "joy": true,
}

var urgencyLexicon = map[string]bool{
	"now": true, "today": true, "tonight": true, "tomorrow": true,
	"urgent": true, "immediately": true, "asap": true, "deadline": true,
	"soon": true, "remember": true, "remind": true, "appointment": true,
	"meeting": true, "due": true, "expires": true, "emergency": true,
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// tokenize splits content into lowercase word tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '\'' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				tokens = append(tokens, strings.Trim(current.String(), "'"))
			}
			current.Reset()
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, strings.Trim(current.String(), "'"))
	}
	return tokens
}
