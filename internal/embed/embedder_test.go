package embed

import (
	"context"
	"math"
	"reflect"
	"testing"
)

func TestHashingEmbedderDeterministic(t *testing.T) {
	e := NewHashingEmbedder(64)

	first, err := e.Embed(context.Background(), "sarah loves painting watercolors")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, _ := e.Embed(context.Background(), "sarah loves painting watercolors")
	if !reflect.DeepEqual(first, second) {
		t.Error("identical text produced different vectors")
	}
}

func TestHashingEmbedderDimensions(t *testing.T) {
	e := NewHashingEmbedder(128)
	if e.Dimensions() != 128 {
		t.Errorf("Dimensions = %d, want 128", e.Dimensions())
	}

	vec, _ := e.Embed(context.Background(), "some text here")
	if len(vec) != 128 {
		t.Errorf("vector len = %d, want 128", len(vec))
	}

	// Zero or negative dims falls back to the default.
	if NewHashingEmbedder(0).Dimensions() != 256 {
		t.Error("zero dims did not default to 256")
	}
}

func TestHashingEmbedderNormalized(t *testing.T) {
	e := NewHashingEmbedder(64)
	vec, _ := e.Embed(context.Background(), "normalize this content please")

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("L2 norm squared = %v, want 1.0", sum)
	}
}

func TestHashingEmbedderSimilarTextCloser(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	base, _ := e.Embed(ctx, "sarah loves painting watercolors in the park")
	near, _ := e.Embed(ctx, "sarah enjoys painting watercolors outside")
	far, _ := e.Embed(ctx, "the furnace filter needs replacement before winter")

	if CosineSimilarity(base, near) <= CosineSimilarity(base, far) {
		t.Errorf("near similarity %v <= far similarity %v",
			CosineSimilarity(base, near), CosineSimilarity(base, far))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1) > 1e-12 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-12 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("mismatched dims = %v, want 0", got)
	}
	if got := CosineSimilarity([]float64{0, 0}, []float64{1, 0}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}

func TestTokenizeSkipsShortTokens(t *testing.T) {
	tokens := tokenize("I am a big believer in naps")
	for _, tok := range tokens {
		if len(tok) < 2 {
			t.Errorf("single-char token %q survived", tok)
		}
	}
}
