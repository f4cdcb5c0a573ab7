package consolidate

import (
	"math"
	"reflect"
	"testing"
)

func TestGreedyClustersGroupsSimilarVectors(t *testing.T) {
	vectors := map[string][]float64{
		"a1": {1, 0, 0},
		"a2": {0.99, 0.05, 0},
		"a3": {0.98, 0.1, 0},
		"b1": {0, 1, 0},
		"b2": {0.05, 0.99, 0},
		"b3": {0, 0.98, 0.1},
	}

	clusters := GreedyClusters(vectors, 0.9, 3)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	sizes := map[int]int{}
	for _, c := range clusters {
		sizes[len(c.RecordIDs)]++
	}
	if sizes[3] != 2 {
		t.Errorf("cluster sizes wrong: %+v", clusters)
	}
}

func TestGreedyClustersDiscardsSmallGroups(t *testing.T) {
	vectors := map[string][]float64{
		"a1": {1, 0},
		"a2": {0.99, 0.05},
		"x":  {0, 1}, // alone
	}

	clusters := GreedyClusters(vectors, 0.9, 3)
	if len(clusters) != 0 {
		t.Errorf("got %d clusters, want 0 (no group reaches min size)", len(clusters))
	}
}

func TestGreedyClustersDeterministic(t *testing.T) {
	vectors := map[string][]float64{
		"c": {1, 0, 0},
		"a": {0.98, 0.1, 0},
		"b": {0.99, 0.05, 0},
	}

	first := GreedyClusters(vectors, 0.9, 3)
	for i := 0; i < 5; i++ {
		if got := GreedyClusters(vectors, 0.9, 3); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs", i)
		}
	}
}

func TestGreedyClustersAssignsEachVectorOnce(t *testing.T) {
	vectors := map[string][]float64{
		"a": {1, 0},
		"b": {0.99, 0.05},
		"c": {0.98, 0.1},
		"d": {0.97, 0.15},
	}

	clusters := GreedyClusters(vectors, 0.9, 2)
	seen := map[string]int{}
	for _, c := range clusters {
		for _, id := range c.RecordIDs {
			seen[id]++
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("vector %s assigned %d times", id, n)
		}
	}
}

func TestCentroid(t *testing.T) {
	vectors := map[string][]float64{
		"a": {1, 0},
		"b": {0, 1},
	}
	got := centroid(vectors, []string{"a", "b"})
	want := []float64{0.5, 0.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("centroid[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCohesion(t *testing.T) {
	vectors := map[string][]float64{
		"a": {1, 0},
		"b": {1, 0},
	}
	c := Cluster{RecordIDs: []string{"a", "b"}, Centroid: []float64{1, 0}}
	if got := cohesion(vectors, c); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("cohesion of identical vectors = %v, want 1.0", got)
	}
}
