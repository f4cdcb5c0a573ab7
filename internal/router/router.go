package router

import (
	"fmt"

	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/store"
)

// Routing targets beyond the durable tiers.
const (
	// TargetDiscard routes a record to logged deletion.
	TargetDiscard = "discard"
	// TargetIntake keeps a record in the staging tier for re-evaluation.
	TargetIntake = store.TierIntake
)

// Decision is the outcome of routing one signal vector. Decisions are
// immutable; re-routing a record later produces a new decision.
type Decision struct {
	TargetTier  string
	Confidence  float64
	Signals     SignalVector
	Reasoning   []string
	ClusterFlag bool // pattern rule fired: flag for the consolidation pass
}

// rule is one entry in the priority-ordered routing policy.
type rule struct {
	name      string
	target    string
	threshold float64
	score     func(SignalVector, config.RouterConfig) float64
}

// rules in evaluation order. First rule whose score exceeds its threshold
// wins; the ordering is part of the contract and is not configurable.
var rules = []rule{
	{
		name:   "shock",
		target: store.TierCritical,
		score: func(sv SignalVector, cfg config.RouterConfig) float64 {
			return sv.Dot(cfg.ShockWeights)
		},
	},
	{
		name:   "decay",
		target: TargetDiscard,
		score: func(sv SignalVector, cfg config.RouterConfig) float64 {
			return sv.Invert().Dot(cfg.DecayWeights)
		},
	},
	{
		name:   "procedural",
		target: store.TierProcedural,
		score: func(sv SignalVector, cfg config.RouterConfig) float64 {
			return sv.Dot(cfg.ProceduralWeights)
		},
	},
	{
		name:   "longterm",
		target: store.TierLongTerm,
		score: func(sv SignalVector, cfg config.RouterConfig) float64 {
			return sv.Dot(cfg.LongTermWeights)
		},
	},
	{
		name:   "pattern",
		target: store.TierLongTerm,
		score: func(sv SignalVector, cfg config.RouterConfig) float64 {
			return sv.Dot(cfg.PatternWeights)
		},
	},
}

// Router applies the priority-ordered routing policy. It is a pure function
// of the signal vector and its configuration: no I/O, no hidden state.
type Router struct {
	cfg config.RouterConfig
}

// New creates a Router with the given weights and thresholds.
func New(cfg config.RouterConfig) *Router {
	return &Router{cfg: cfg}
}

func (r *Router) threshold(name string) float64 {
	switch name {
	case "shock":
		return r.cfg.ShockThreshold
	case "decay":
		return r.cfg.DecayThreshold
	case "procedural":
		return r.cfg.ProceduralThreshold
	case "longterm":
		return r.cfg.LongTermThreshold
	case "pattern":
		return r.cfg.PatternThreshold
	}
	return 1.0
}

// Route evaluates the rules in fixed order and returns the first match.
// When no rule matches, the record stays in intake with zero confidence
// (ambiguity is a normal outcome, not an error).
func (r *Router) Route(sv SignalVector) Decision {
	var reasoning []string

	for _, ru := range rules {
		score := clamp01(ru.score(sv, r.cfg))
		threshold := r.threshold(ru.name)

		if score > threshold {
			reasoning = append(reasoning, fmt.Sprintf("%s=%.3f>%.2f", ru.name, score, threshold))
			return Decision{
				TargetTier:  ru.target,
				Confidence:  score,
				Signals:     sv,
				Reasoning:   reasoning,
				ClusterFlag: ru.name == "pattern",
			}
		}
		reasoning = append(reasoning, fmt.Sprintf("%s=%.3f", ru.name, score))
	}

	reasoning = append(reasoning, "no rule matched")
	return Decision{
		TargetTier: TargetIntake,
		Confidence: 0,
		Signals:    sv,
		Reasoning:  reasoning,
	}
}
