package alias

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roach88/mlrng/internal/rng"
	"github.com/roach88/mlrng/internal/substream"
)

func testDeriver(t *testing.T) substream.Deriver {
	t.Helper()
	sum := sha256.Sum256([]byte("manifest"))
	d, err := substream.NewDeriverFor(substream.DefaultMasterTag, hex.EncodeToString(sum[:]), 42)
	require.NoError(t, err)
	return d
}

func TestBuildRegression(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		prob    []float64
		alias   []int
	}{
		{"increasing", []float64{0.1, 0.2, 0.3, 0.4}, []float64{0.4, 0.8, 0.6, 1}, []int{2, 3, 3, 3}},
		{"unnormalized", []float64{1, 2, 3}, []float64{0.5, 0.5, 1}, []int{1, 2, 2}},
		{"zero weight", []float64{5, 0, 5}, []float64{0.5, 0, 1}, []int{2, 0, 2}},
		{"uniform", []float64{1, 1, 1, 1}, []float64{1, 1, 1, 1}, []int{0, 1, 2, 3}},
		{"single", []float64{3}, []float64{1}, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab, err := Build(tt.weights)
			require.NoError(t, err)
			require.Equal(t, len(tt.weights), tab.Len())
			for i := range tt.prob {
				assert.InDelta(t, tt.prob[i], tab.Prob(i), 1e-12, "prob[%d]", i)
				assert.Equal(t, tt.alias[i], tab.Alias(i), "alias[%d]", i)
			}
		})
	}
}

func TestBuildProbabilitiesMatchWeights(t *testing.T) {
	weights := []float64{3, 0, 1.5, 7, 0.25, 2}
	tab, err := Build(weights)
	require.NoError(t, err)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	for i, p := range tab.Probabilities() {
		assert.InDelta(t, weights[i]/sum, p, 1e-12, "outcome %d", i)
	}
}

func TestBuildHugeWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		probs   []float64
	}{
		{"sum overflows", []float64{1e308, 1e308}, []float64{0.5, 0.5}},
		{"max float", []float64{math.MaxFloat64, math.MaxFloat64, 0}, []float64{0.5, 0.5, 0}},
		{"huge and unit", []float64{1e308, 1}, []float64{1, 0}},
		{"uneven overflow", []float64{1.5e308, 1e308, 0.5e308}, []float64{0.5, 1.0 / 3, 1.0 / 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab, err := Build(tt.weights)
			require.NoError(t, err)
			for i, p := range tab.Probabilities() {
				assert.InDelta(t, tt.probs[i], p, 1e-12, "outcome %d", i)
			}
		})
	}

	// relative weights give the same table at any scale
	huge, err := Build([]float64{1e308, 1e308})
	require.NoError(t, err)
	unit, err := Build([]float64{1, 1})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		assert.Equal(t, unit.Prob(i), huge.Prob(i))
		assert.Equal(t, unit.Alias(i), huge.Alias(i))
	}
}

func TestBuildRejectsInvalidWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
	}{
		{"empty", nil},
		{"negative", []float64{1, -0.5}},
		{"nan", []float64{1, math.NaN()}},
		{"inf", []float64{math.Inf(1), 1}},
		{"all zero", []float64{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.weights)
			require.Error(t, err)
			assert.True(t, rng.IsCode(err, rng.ErrCodeAliasWeightInvalid))
			assert.True(t, rng.IsFatal(err))
		})
	}
}

func TestPickRegression(t *testing.T) {
	tab, err := Build([]float64{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)

	tests := []struct {
		u    float64
		want int
	}{
		{0.05, 0},
		{0.2, 2},
		{0.49, 3},
		{0.51, 2},
		{0.74, 3},
		{0.76, 3},
		{0.999999, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tab.Pick(tt.u), "u=%v", tt.u)
	}
}

func TestPickStaysInRange(t *testing.T) {
	tab, err := Build([]float64{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)

	for _, u := range []float64{rng.U01(0), rng.U01(math.MaxUint64), 0.5, math.Nextafter(1, 0), 1} {
		idx := tab.Pick(u)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, tab.Len())
	}
}

func TestPickNeverSelectsZeroWeight(t *testing.T) {
	tab, err := Build([]float64{5, 0, 5})
	require.NoError(t, err)

	for i := 1; i < 1000; i++ {
		assert.NotEqual(t, 1, tab.Pick(float64(i)/1000))
	}
}

func TestSampleChiSquare(t *testing.T) {
	weights := []float64{0.1, 0.2, 0.3, 0.4}
	tab, err := BuildOf(weights, func(w float64) float64 { return w })
	require.NoError(t, err)

	s := testDeriver(t).Stream(substream.New(substream.Str(RouterDomain), substream.Str("alias_chisq")))
	const n = 100000
	counts := make([]float64, len(weights))
	for i := 0; i < n; i++ {
		_, d, err := tab.Sample(s)
		require.NoError(t, err)
		counts[d.Index]++
	}

	stat := 0.0
	for i, w := range weights {
		exp := w * n
		stat += (counts[i] - exp) * (counts[i] - exp) / exp
	}
	crit := distuv.ChiSquared{K: float64(len(weights) - 1)}.Quantile(0.999)
	assert.Less(t, stat, crit, "counts=%v", counts)
}

func TestSampleUniformWithinOnePercent(t *testing.T) {
	tab, err := BuildOf([]string{"a", "b", "c", "d"}, func(string) float64 { return 1 })
	require.NoError(t, err)

	s := testDeriver(t).Stream(substream.New(substream.Str(RouterDomain), substream.Str("alias_uniform")))
	const n = 100000
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		item, _, err := tab.Sample(s)
		require.NoError(t, err)
		counts[item]++
	}

	for _, item := range tab.Items {
		assert.InDelta(t, n/4, counts[item], n/4*0.01, "item %s", item)
	}
}

func TestSampleConsumesOneBlock(t *testing.T) {
	tab, err := BuildOf([]int{10, 20}, func(int) float64 { return 1 })
	require.NoError(t, err)

	s := rng.NewStream("lbl", 5, rng.Counter{Hi: 1, Lo: 2})
	_, d, err := tab.Sample(s)
	require.NoError(t, err)

	assert.Equal(t, "lbl", d.Label)
	assert.Equal(t, rng.Counter{Hi: 1, Lo: 2}, d.Envelope.Before)
	assert.Equal(t, rng.Counter{Hi: 1, Lo: 3}, d.Envelope.After)
	assert.Equal(t, uint32(1), d.Envelope.Blocks)
	assert.Equal(t, uint64(1), d.Envelope.Draws)
	assert.Equal(t, tab.Pick(d.U), d.Index)
}

func TestSampleCounterWrap(t *testing.T) {
	tab, err := BuildOf([]int{1}, func(int) float64 { return 1 })
	require.NoError(t, err)

	s := rng.NewStream("lbl", 5, rng.Counter{Hi: math.MaxUint64, Lo: math.MaxUint64})
	_, _, err = tab.Sample(s)
	require.Error(t, err)
	assert.True(t, rng.IsCode(err, rng.ErrCodeCounterWrap))
}

func TestDigestDeterministic(t *testing.T) {
	a, err := Build([]float64{1, 2, 3})
	require.NoError(t, err)
	b, err := Build([]float64{1, 2, 3})
	require.NoError(t, err)
	c, err := Build([]float64{3, 2, 1})
	require.NoError(t, err)

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), c.Digest())
	assert.Len(t, a.Digest(), 64)

	assert.Equal(t, WeightsDigest([]float64{1, 2}), WeightsDigest([]float64{1, 2}))
	assert.NotEqual(t, WeightsDigest([]float64{1, 2}), WeightsDigest([]float64{2, 1}))
}
