package store

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGetRecord(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "met sarah at the park", Criticality: 0.4}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if rec.Tier != TierIntake {
		t.Errorf("Tier = %q, want intake", rec.Tier)
	}
	if rec.Phase != PhaseFull {
		t.Errorf("Phase = %q, want full", rec.Phase)
	}
	if rec.Version != 1 {
		t.Errorf("Version = %d, want 1", rec.Version)
	}
	if rec.Strength != 1.0 {
		t.Errorf("Strength = %v, want 1.0", rec.Strength)
	}

	got, err := db.GetRecord("r1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got == nil {
		t.Fatal("GetRecord returned nil")
	}
	if got.Content != rec.Content {
		t.Errorf("Content = %q, want %q", got.Content, rec.Content)
	}
}

func TestGetRecordMissing(t *testing.T) {
	db := testDB(t)

	got, err := db.GetRecord("nope")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got != nil {
		t.Errorf("GetRecord = %+v, want nil", got)
	}
}

func TestUpdateRecordCAS(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "original"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	rec.Tier = TierLongTerm
	if err := db.UpdateRecordCAS(rec, 1); err != nil {
		t.Fatalf("UpdateRecordCAS: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("Version = %d, want 2", rec.Version)
	}

	got, _ := db.GetRecord("r1")
	if got.Tier != TierLongTerm {
		t.Errorf("Tier = %q, want longterm", got.Tier)
	}
	if got.Version != 2 {
		t.Errorf("stored Version = %d, want 2", got.Version)
	}
}

func TestUpdateRecordCASStale(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "contested"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	// Winner advances the version.
	winner := *rec
	winner.Tier = TierLongTerm
	if err := db.UpdateRecordCAS(&winner, 1); err != nil {
		t.Fatalf("winner update: %v", err)
	}

	// Loser still holds version 1 and must be told so.
	loser := *rec
	loser.Tier = TierProcedural
	err := db.UpdateRecordCAS(&loser, 1)
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("loser update err = %v, want ErrStaleVersion", err)
	}

	// The winner's write survived untouched.
	got, _ := db.GetRecord("r1")
	if got.Tier != TierLongTerm {
		t.Errorf("Tier = %q, want longterm", got.Tier)
	}
}

func TestTouchRecord(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "touched"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if err := db.TouchRecord("r1"); err != nil {
		t.Fatalf("TouchRecord: %v", err)
	}

	got, _ := db.GetRecord("r1")
	if got.RepetitionCount != 1 {
		t.Errorf("RepetitionCount = %d, want 1", got.RepetitionCount)
	}
	if got.LastAccess == nil {
		t.Error("LastAccess not set")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestListByTier(t *testing.T) {
	db := testDB(t)

	for _, r := range []Record{
		{ID: "a", Tier: TierLongTerm, Content: "strong"},
		{ID: "b", Tier: TierLongTerm, Content: "weak"},
		{ID: "c", Tier: TierCritical, Content: "other tier"},
	} {
		rec := r
		if err := db.CreateRecord(&rec); err != nil {
			t.Fatalf("CreateRecord %s: %v", r.ID, err)
		}
	}

	// Weaken b so ordering by strength is observable.
	b, _ := db.GetRecord("b")
	b.Strength = 0.3
	if err := db.UpdateRecordCAS(b, b.Version); err != nil {
		t.Fatalf("weaken b: %v", err)
	}

	records, err := db.ListByTier(TierLongTerm, RecordFilter{})
	if err != nil {
		t.Fatalf("ListByTier: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != "a" {
		t.Errorf("first record = %s, want a (strongest first)", records[0].ID)
	}

	strong, err := db.ListByTier(TierLongTerm, RecordFilter{MinStrength: 0.5})
	if err != nil {
		t.Fatalf("ListByTier filtered: %v", err)
	}
	if len(strong) != 1 || strong[0].ID != "a" {
		t.Errorf("filtered = %v, want just a", strong)
	}
}

func TestListIntakeOlderThan(t *testing.T) {
	db := testDB(t)

	old := &Record{ID: "old", Content: "stale", CreatedAt: time.Now().Add(-time.Hour).UnixMilli()}
	if err := db.CreateRecord(old); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	fresh := &Record{ID: "fresh", Content: "new"}
	if err := db.CreateRecord(fresh); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	cutoff := time.Now().Add(-time.Minute).UnixMilli()
	expired, err := db.ListIntakeOlderThan(cutoff)
	if err != nil {
		t.Fatalf("ListIntakeOlderThan: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "old" {
		t.Errorf("expired = %v, want just old", expired)
	}
}

func TestListDecayEligible(t *testing.T) {
	db := testDB(t)

	for _, r := range []Record{
		{ID: "lt", Tier: TierLongTerm, Content: "x"},
		{ID: "in", Tier: TierIntake, Content: "x"},
		{ID: "cr", Tier: TierCritical, Content: "x"},
	} {
		rec := r
		if err := db.CreateRecord(&rec); err != nil {
			t.Fatalf("CreateRecord %s: %v", r.ID, err)
		}
	}

	// Forgotten records are skipped even in a durable tier.
	lt, _ := db.GetRecord("lt")
	lt.Phase = PhaseForgotten
	lt.Tier = TierForgotten
	if err := db.UpdateRecordCAS(lt, lt.Version); err != nil {
		t.Fatalf("forget lt: %v", err)
	}

	eligible, err := db.ListDecayEligible()
	if err != nil {
		t.Fatalf("ListDecayEligible: %v", err)
	}
	if len(eligible) != 1 || eligible[0].ID != "cr" {
		t.Errorf("eligible = %v, want just cr", eligible)
	}
}

func TestResetStrengthAudited(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "corroborated"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	rec.Strength = 0.2
	rec.Phase = PhaseEssence
	rec.Tier = TierLongTerm
	if err := db.UpdateRecordCAS(rec, rec.Version); err != nil {
		t.Fatalf("weaken: %v", err)
	}

	if err := db.ResetStrength("r1", "user mentioned it again"); err != nil {
		t.Fatalf("ResetStrength: %v", err)
	}

	got, _ := db.GetRecord("r1")
	if got.Strength != 1.0 {
		t.Errorf("Strength = %v, want 1.0", got.Strength)
	}
	if got.Phase != PhaseEssence {
		t.Errorf("Phase = %q, want essence (reset restores strength, not content)", got.Phase)
	}
	if got.RepetitionCount != 1 {
		t.Errorf("RepetitionCount = %d, want 1", got.RepetitionCount)
	}

	resets, err := db.ListStrengthResets("r1")
	if err != nil {
		t.Fatalf("ListStrengthResets: %v", err)
	}
	if len(resets) != 1 {
		t.Fatalf("got %d resets, want 1", len(resets))
	}
	if resets[0].OldStrength != 0.2 {
		t.Errorf("OldStrength = %v, want 0.2", resets[0].OldStrength)
	}
	if resets[0].Reason != "user mentioned it again" {
		t.Errorf("Reason = %q", resets[0].Reason)
	}
}

func TestResetStrengthMissing(t *testing.T) {
	db := testDB(t)

	if err := db.ResetStrength("nope", "reason"); err == nil {
		t.Error("ResetStrength on missing record succeeded")
	}
}

func TestTierCounts(t *testing.T) {
	db := testDB(t)

	for _, r := range []Record{
		{ID: "a", Tier: TierLongTerm, Content: "x"},
		{ID: "b", Tier: TierLongTerm, Content: "x"},
		{ID: "c", Tier: TierIntake, Content: "x"},
	} {
		rec := r
		if err := db.CreateRecord(&rec); err != nil {
			t.Fatalf("CreateRecord %s: %v", r.ID, err)
		}
	}

	counts, err := db.TierCounts()
	if err != nil {
		t.Fatalf("TierCounts: %v", err)
	}
	if counts[TierLongTerm][PhaseFull] != 2 {
		t.Errorf("longterm/full = %d, want 2", counts[TierLongTerm][PhaseFull])
	}
	if counts[TierIntake][PhaseFull] != 1 {
		t.Errorf("intake/full = %d, want 1", counts[TierIntake][PhaseFull])
	}
}
