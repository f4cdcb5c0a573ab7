package consolidate

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/lazypower/stratum/internal/embed"
)

// Cluster is a group of records whose embeddings sit within the similarity
// threshold of a shared seed.
type Cluster struct {
	RecordIDs []string
	Centroid  []float64
}

// GreedyClusters groups vectors by cosine similarity. Seeds are taken in
// sorted ID order so the result is deterministic for a given input set. Each
// vector joins at most one cluster; groups smaller than minSize are discarded
// and their members stay available as later seeds.
func GreedyClusters(vectors map[string][]float64, threshold float64, minSize int) []Cluster {
	if minSize < 1 {
		minSize = 1
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	assigned := make(map[string]bool, len(ids))
	var clusters []Cluster

	for _, seed := range ids {
		if assigned[seed] {
			continue
		}
		members := []string{seed}
		for _, other := range ids {
			if other == seed || assigned[other] {
				continue
			}
			if embed.CosineSimilarity(vectors[seed], vectors[other]) >= threshold {
				members = append(members, other)
			}
		}
		if len(members) < minSize {
			continue
		}

		for _, id := range members {
			assigned[id] = true
		}
		clusters = append(clusters, Cluster{
			RecordIDs: members,
			Centroid:  centroid(vectors, members),
		})
	}
	return clusters
}

// centroid is the mean of the member vectors.
func centroid(vectors map[string][]float64, members []string) []float64 {
	if len(members) == 0 {
		return nil
	}
	dims := len(vectors[members[0]])
	sum := make([]float64, dims)
	for _, id := range members {
		v := vectors[id]
		if len(v) != dims {
			continue
		}
		floats.Add(sum, v)
	}
	floats.Scale(1/float64(len(members)), sum)
	return sum
}

// cohesion is the mean cosine similarity of members to the centroid. It is
// stored as the pattern's confidence.
func cohesion(vectors map[string][]float64, c Cluster) float64 {
	if len(c.RecordIDs) == 0 {
		return 0
	}
	total := 0.0
	for _, id := range c.RecordIDs {
		total += embed.CosineSimilarity(vectors[id], c.Centroid)
	}
	return total / float64(len(c.RecordIDs))
}
