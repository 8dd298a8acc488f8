package alias

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/rng"
)

// Table is a Vose alias table over n outcomes.
type Table struct {
	prob  []float64
	alias []uint32
}

// Build constructs a table from non-negative finite weights with a positive
// sum. The sum itself may exceed MaxFloat64. Probabilities are normalized internally.
//
// Construction uses FIFO small/large work queues: each step pairs the oldest
// under-full index with the oldest over-full one, and the donor is re-queued
// by its remaining mass. Indices left when either queue empties get
// prob=1, alias=self.
func Build(weights []float64) (*Table, error) {
	n := len(weights)
	if n == 0 {
		return nil, weightError("weight vector is empty", nil)
	}
	if uint64(n) > math.MaxUint32 {
		return nil, weightError(fmt.Sprintf("weight vector too long: %d", n), nil)
	}

	sum, maxW := 0.0, 0.0
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, weightError("weight is not finite", map[string]string{"index": fmt.Sprint(i)})
		}
		if w < 0 {
			return nil, weightError("weight is negative", map[string]string{"index": fmt.Sprint(i)})
		}
		sum += w
		maxW = math.Max(maxW, w)
	}
	if !(sum > 0) {
		return nil, weightError("weights must have a positive sum", map[string]string{"sum": fmt.Sprint(sum)})
	}

	// A sum past MaxFloat64 is taken relative to the largest weight.
	// Other inputs divide by the plain sum so tables stay bit-identical.
	div := 1.0
	if math.IsInf(sum, 1) {
		div, sum = maxW, 0
		for _, w := range weights {
			sum += float64(w / maxW)
		}
	}

	scaled := make([]float64, n)
	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, w := range weights {
		// explicit conversions keep each step individually rounded
		p := float64(float64(w/div) / sum)
		scaled[i] = float64(p * float64(n))
		if scaled[i] < 1 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	t := &Table{prob: make([]float64, n), alias: make([]uint32, n)}
	for len(small) > 0 && len(large) > 0 {
		s, l := small[0], large[0]
		small, large = small[1:], large[1:]

		t.prob[s] = scaled[s]
		t.alias[s] = uint32(l)
		scaled[l] = float64(scaled[l] - float64(1-scaled[s]))
		if scaled[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	for _, i := range large {
		t.prob[i], t.alias[i] = 1, uint32(i)
	}
	for _, i := range small {
		t.prob[i], t.alias[i] = 1, uint32(i)
	}
	return t, nil
}

func weightError(msg string, details map[string]string) *rng.Error {
	return &rng.Error{Code: rng.ErrCodeAliasWeightInvalid, Message: msg, Details: details}
}

// Len returns the number of outcomes.
func (t *Table) Len() int {
	return len(t.prob)
}

// Prob returns the acceptance probability of column i.
func (t *Table) Prob(i int) float64 {
	return t.prob[i]
}

// Alias returns the alias of column i.
func (t *Table) Alias(i int) int {
	return int(t.alias[i])
}

// Pick maps one uniform in (0,1) to an outcome index in [0, n).
// s = u*n; j = floor(s); r = s-j; return j if r < prob[j] else alias[j].
func (t *Table) Pick(u float64) int {
	n := len(t.prob)
	scaled := float64(u * float64(n))
	j := math.Floor(scaled)
	r := float64(scaled - j)

	col := int(j)
	if col >= n {
		col = n - 1
	} else if col < 0 {
		col = 0
	}
	if r < t.prob[col] {
		return col
	}
	return int(t.alias[col])
}

// Probabilities reconstructs the outcome distribution the table encodes.
func (t *Table) Probabilities() []float64 {
	n := float64(len(t.prob))
	out := make([]float64, len(t.prob))
	for i, p := range t.prob {
		out[i] += p / n
		out[t.alias[i]] += (1 - p) / n
	}
	return out
}

// Digest returns a domain-separated SHA-256 over the table contents.
// Rebuilding from the same weights yields the same digest.
func (t *Table) Digest() string {
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(t.prob)))
	for i := range t.prob {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t.prob[i]))
		buf = binary.LittleEndian.AppendUint32(buf, t.alias[i])
	}
	return ir.HashWithDomain(ir.DomainAliasTable, buf)
}

// WeightsDigest returns a domain-separated SHA-256 over a weight vector.
func WeightsDigest(weights []float64) string {
	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(weights)))
	for _, w := range weights {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(w))
	}
	return ir.HashWithDomain(ir.DomainWeights, buf)
}
