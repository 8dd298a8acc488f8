package alias

import (
	"github.com/roach88/mlrng/internal/rng"
)

// TableOf pairs an alias table with the items it indexes.
type TableOf[T any] struct {
	Items []T
	*Table
	weightsDigest string
}

// BuildOf builds a table over items using weight to extract each item's weight.
func BuildOf[T any](items []T, weight func(T) float64) (*TableOf[T], error) {
	weights := make([]float64, len(items))
	for i, it := range items {
		weights[i] = weight(it)
	}
	t, err := Build(weights)
	if err != nil {
		return nil, err
	}
	return &TableOf[T]{Items: items, Table: t, weightsDigest: WeightsDigest(weights)}, nil
}

// WeightsDigest returns the digest of the weights the table was built from.
func (t *TableOf[T]) WeightsDigest() string {
	return t.weightsDigest
}

// Draw records one alias pick: the uniform used, the chosen index and the
// RNG consumption.
type Draw struct {
	Label    string
	U        float64
	Index    int
	Envelope rng.Envelope
}

// Sample draws one uniform from s and returns the picked item.
// Exactly one block is consumed.
func (t *TableOf[T]) Sample(s *rng.Stream) (T, Draw, error) {
	u, env, err := s.Uniform()
	if err != nil {
		var zero T
		return zero, Draw{}, err
	}
	idx := t.Pick(u)
	return t.Items[idx], Draw{Label: s.Label(), U: u, Index: idx, Envelope: env}, nil
}
