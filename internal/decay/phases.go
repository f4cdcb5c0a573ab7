package decay

import (
	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/store"
)

// phaseRank orders phases along the compression gradient. Decay only ever
// moves a record toward higher ranks; nothing moves a phase backward.
func phaseRank(phase string) int {
	switch phase {
	case store.PhaseFull:
		return 0
	case store.PhaseCompressed1:
		return 1
	case store.PhaseCompressed2:
		return 2
	case store.PhaseEssence:
		return 3
	case store.PhasePattern:
		return 4
	case store.PhaseIntuitive:
		return 5
	case store.PhaseForgotten:
		return 6
	}
	return 6
}

// PhaseForStrength maps a strength value to its phase. Floors are evaluated
// from strongest to weakest; a strength below every floor means forgotten.
// A record whose strength crosses several floors at once lands directly on
// the final phase, it does not step through the intermediates.
func PhaseForStrength(strength float64, t config.PhaseThresholds) string {
	switch {
	case strength >= t.Full:
		return store.PhaseFull
	case strength >= t.Compressed1:
		return store.PhaseCompressed1
	case strength >= t.Compressed2:
		return store.PhaseCompressed2
	case strength >= t.Essence:
		return store.PhaseEssence
	case strength >= t.Pattern:
		return store.PhasePattern
	case strength >= t.Intuitive:
		return store.PhaseIntuitive
	}
	return store.PhaseForgotten
}

// PhaseBudget returns the token budget for a phase's content. Forgotten has
// no content at all, so its budget is zero.
func PhaseBudget(phase string, b config.PhaseBudgets) int {
	switch phase {
	case store.PhaseFull:
		return b.Full
	case store.PhaseCompressed1:
		return b.Compressed1
	case store.PhaseCompressed2:
		return b.Compressed2
	case store.PhaseEssence:
		return b.Essence
	case store.PhasePattern:
		return b.Pattern
	case store.PhaseIntuitive:
		return b.Intuitive
	}
	return 0
}

// compressionHint steers the summarizer toward what each phase is meant to
// retain.
func compressionHint(phase string) string {
	switch phase {
	case store.PhaseCompressed1:
		return "Keep the full narrative shape; trim detail and repetition."
	case store.PhaseCompressed2:
		return "Keep the key facts and outcome; drop the narrative."
	case store.PhaseEssence:
		return "Reduce to the single most important fact or lesson."
	case store.PhasePattern:
		return "State only the general pattern this memory exemplifies."
	case store.PhaseIntuitive:
		return "Reply with a few words capturing the gut-level takeaway."
	}
	return ""
}
