package embed

import "context"

// MockEmbedder is a test double returning a fixed or computed vector.
type MockEmbedder struct {
	Vector []float64
	Err    error
	Fn     func(text string) ([]float64, error)
	Calls  []string
}

func (m *MockEmbedder) Model() string { return "mock" }

func (m *MockEmbedder) Dimensions() int {
	if m.Fn == nil {
		return len(m.Vector)
	}
	return 0
}

// Embed records the call and returns the configured vector.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	m.Calls = append(m.Calls, text)
	if m.Fn != nil {
		return m.Fn(text)
	}
	return m.Vector, m.Err
}
