package store

import (
	"math"
	"testing"
)

func TestSaveAndGetVector(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "x"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	vec := []float64{0.1, -0.5, 0.925}
	if err := db.SaveVector("r1", vec, "test-model"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	got, err := db.GetVector("r1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got == nil {
		t.Fatal("GetVector returned nil")
	}
	if got.Model != "test-model" {
		t.Errorf("Model = %q", got.Model)
	}
	if got.Dimensions != 3 {
		t.Errorf("Dimensions = %d, want 3", got.Dimensions)
	}
	for i, v := range vec {
		if math.Abs(got.Embedding[i]-v) > 1e-12 {
			t.Errorf("Embedding[%d] = %v, want %v", i, got.Embedding[i], v)
		}
	}
}

func TestSaveVectorReplaces(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "x"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if err := db.SaveVector("r1", []float64{1, 0}, "m1"); err != nil {
		t.Fatalf("first SaveVector: %v", err)
	}
	if err := db.SaveVector("r1", []float64{0, 1}, "m2"); err != nil {
		t.Fatalf("second SaveVector: %v", err)
	}

	got, _ := db.GetVector("r1")
	if got.Model != "m2" || got.Embedding[1] != 1 {
		t.Errorf("vector not replaced: %+v", got)
	}
}

func TestVectorsForRecords(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b"} {
		rec := &Record{ID: id, Content: "x"}
		if err := db.CreateRecord(rec); err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
	}
	if err := db.SaveVector("a", []float64{1}, "m"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}

	vectors, err := db.VectorsForRecords([]string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("VectorsForRecords: %v", err)
	}
	if len(vectors) != 1 {
		t.Errorf("got %d vectors, want 1 (records without vectors skipped)", len(vectors))
	}
	if _, ok := vectors["a"]; !ok {
		t.Error("vector for a missing")
	}
}

func TestDeleteVector(t *testing.T) {
	db := testDB(t)

	rec := &Record{ID: "r1", Content: "x"}
	if err := db.CreateRecord(rec); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := db.SaveVector("r1", []float64{1}, "m"); err != nil {
		t.Fatalf("SaveVector: %v", err)
	}
	if err := db.DeleteVector("r1"); err != nil {
		t.Fatalf("DeleteVector: %v", err)
	}

	got, err := db.GetVector("r1")
	if err != nil {
		t.Fatalf("GetVector: %v", err)
	}
	if got != nil {
		t.Errorf("vector survived delete: %+v", got)
	}
}
