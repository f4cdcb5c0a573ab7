package router

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/store"
)

func testRouter() *Router {
	return New(config.Default().Router)
}

func TestShockRuleWinsFirst(t *testing.T) {
	r := testRouter()

	// High criticality routes to critical even when later rules would also
	// match; the shock rule short-circuits.
	sv := SignalVector{
		SuccessScore:       0.5,
		RepetitionSignal:   0.5,
		Criticality:        0.95,
		PatternNovelty:     0.5,
		ContextRichness:    0.5,
		EmotionalIntensity: 0.5,
		TemporalUrgency:    0,
	}
	dec := r.Route(sv)

	if dec.TargetTier != store.TierCritical {
		t.Fatalf("TargetTier = %q, want critical", dec.TargetTier)
	}
	if dec.ClusterFlag {
		t.Error("ClusterFlag set on shock route")
	}
	// shock = 0.9*0.95 + 0.2*0.5 = 0.955
	if math.Abs(dec.Confidence-0.955) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.955", dec.Confidence)
	}
	if len(dec.Reasoning) != 1 || !strings.HasPrefix(dec.Reasoning[0], "shock=") {
		t.Errorf("Reasoning = %v", dec.Reasoning)
	}
}

func TestDecayRuleDiscardsWorthless(t *testing.T) {
	r := testRouter()

	// A zero vector inverts to all ones: nothing valuable here.
	dec := r.Route(SignalVector{})

	if dec.TargetTier != TargetDiscard {
		t.Fatalf("TargetTier = %q, want discard", dec.TargetTier)
	}
	// inverted dot = 0.30 + 0.25 + 0.25 + 0.20 = 1.0
	if dec.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", dec.Confidence)
	}
}

func TestProceduralRoute(t *testing.T) {
	r := testRouter()

	sv := SignalVector{
		SuccessScore:     0.7,
		RepetitionSignal: 0.9,
		Criticality:      0.3,
		PatternNovelty:   0.3,
		ContextRichness:  0.3,
		TemporalUrgency:  0.5,
	}
	dec := r.Route(sv)

	if dec.TargetTier != store.TierProcedural {
		t.Fatalf("TargetTier = %q, want procedural (reasoning %v)", dec.TargetTier, dec.Reasoning)
	}
	// procedural = 0.6*0.9 + 0.4*0.7 = 0.82
	if math.Abs(dec.Confidence-0.82) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.82", dec.Confidence)
	}
}

func TestLongTermRoute(t *testing.T) {
	r := testRouter()

	sv := SignalVector{
		SuccessScore:       0.9,
		RepetitionSignal:   0.2,
		Criticality:        0.4,
		PatternNovelty:     0.4,
		ContextRichness:    0.8,
		EmotionalIntensity: 0.4,
		TemporalUrgency:    0.9,
	}
	dec := r.Route(sv)

	if dec.TargetTier != store.TierLongTerm {
		t.Fatalf("TargetTier = %q, want longterm (reasoning %v)", dec.TargetTier, dec.Reasoning)
	}
	if dec.ClusterFlag {
		t.Error("ClusterFlag set by longterm rule")
	}
	// longterm = 0.6*0.9 + 0.25*0.8 + 0.15*0.4 = 0.80
	if math.Abs(dec.Confidence-0.80) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.80", dec.Confidence)
	}
}

func TestPatternRouteSetsClusterFlag(t *testing.T) {
	r := testRouter()

	sv := SignalVector{
		SuccessScore:       0.5,
		RepetitionSignal:   0.4,
		Criticality:        0.5,
		PatternNovelty:     0.9,
		ContextRichness:    0.4,
		EmotionalIntensity: 0.1,
		TemporalUrgency:    0.5,
	}
	dec := r.Route(sv)

	if dec.TargetTier != store.TierLongTerm {
		t.Fatalf("TargetTier = %q, want longterm (reasoning %v)", dec.TargetTier, dec.Reasoning)
	}
	if !dec.ClusterFlag {
		t.Error("ClusterFlag not set by pattern rule")
	}
	// pattern = 0.6*0.9 + 0.2*0.4 + 0.2*0.5 = 0.72
	if math.Abs(dec.Confidence-0.72) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.72", dec.Confidence)
	}
}

func TestAmbiguousStaysInIntake(t *testing.T) {
	r := testRouter()

	sv := SignalVector{
		SuccessScore:       0.5,
		RepetitionSignal:   0.3,
		Criticality:        0.4,
		PatternNovelty:     0.3,
		ContextRichness:    0.2,
		EmotionalIntensity: 0.1,
		TemporalUrgency:    0.4,
	}
	dec := r.Route(sv)

	if dec.TargetTier != TargetIntake {
		t.Fatalf("TargetTier = %q, want intake (reasoning %v)", dec.TargetTier, dec.Reasoning)
	}
	if dec.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", dec.Confidence)
	}
	// All five rules scored plus the fallthrough marker.
	if len(dec.Reasoning) != 6 || dec.Reasoning[5] != "no rule matched" {
		t.Errorf("Reasoning = %v", dec.Reasoning)
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := testRouter()

	sv := SignalVector{
		SuccessScore:    0.62,
		Criticality:     0.31,
		PatternNovelty:  0.88,
		ContextRichness: 0.47,
	}
	first := r.Route(sv)
	for i := 0; i < 10; i++ {
		if got := r.Route(sv); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}

func TestInvert(t *testing.T) {
	sv := SignalVector{SuccessScore: 0.3, Criticality: 1.0}
	inv := sv.Invert()

	if math.Abs(inv.SuccessScore-0.7) > 1e-9 {
		t.Errorf("inverted SuccessScore = %v, want 0.7", inv.SuccessScore)
	}
	if inv.Criticality != 0 {
		t.Errorf("inverted Criticality = %v, want 0", inv.Criticality)
	}
	if inv.RepetitionSignal != 1 {
		t.Errorf("inverted zero RepetitionSignal = %v, want 1", inv.RepetitionSignal)
	}
}
