package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioHeader = `
name: test
description: "test scenario"
run:
  seed: 1
  parameter_hash: abababababababababababababababababababababababababababababababab
  manifest_fingerprint: 05b3abf2579a5eb66403cd78be557fd860633a1fe2103c7642030defe32c657f
`

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "arrival_routing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "arrival_routing", s.Name)
	assert.Equal(t, uint64(42), s.Run.Seed)
	assert.Empty(t, s.Run.RunID)
	require.Len(t, s.Flow, 6)
	assert.Equal(t, OpHurdle, s.Flow[0].Op)
	require.NotNil(t, s.Flow[0].P)
	assert.Equal(t, 0.5, *s.Flow[0].P)
	assert.Equal(t, OpRoute, s.Flow[5].Op)
	assert.Equal(t, uint64(2), s.Flow[5].ArrivalSeq)

	require.NotNil(t, s.Weights)
	assert.Len(t, s.Weights.Groups["2024-03-01"], 2)
	assert.Len(t, s.Weights.Sites["Europe/Paris"], 3)
}

func TestLoadScenario_SamplingKnobs(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "country_selection.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "countries-1", s.Run.RunID)
	assert.Equal(t, 4, s.Parallelism)

	p := s.Sampling.For("1A.gumbel_foreign")
	assert.True(t, p.LogAllCandidates)
	assert.Equal(t, 3, p.MaxCandidates)
	assert.Equal(t, "E_GUMBEL_WEIGHT_INVALID", s.Flow[4].Error)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	body := scenarioHeader + `
flow:
  - op: jitter
    merchant_id: 3
    country_iso: FR
    site_order: 2
    attempt: 1
assertions:
  - type: verify
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "FR", s.Flow[0].CountryISO)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: scenarioHeader + "flwo: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: x\nflow: [{op: hurdle, p: 0.5}]\nassertions: [{type: verify}]\n",
			want: "name is required",
		},
		{
			name: "empty flow",
			yaml: scenarioHeader + "assertions: [{type: verify}]\n",
			want: "flow list is required",
		},
		{
			name: "empty assertions",
			yaml: scenarioHeader + "flow: [{op: hurdle, merchant_id: 1, p: 0.5}]\n",
			want: "assertions list is required",
		},
		{
			name: "hurdle without p",
			yaml: scenarioHeader + "flow: [{op: hurdle, merchant_id: 1}]\nassertions: [{type: verify}]\n",
			want: "p is required for hurdle",
		},
		{
			name: "selection without candidates",
			yaml: scenarioHeader + "flow: [{op: select_countries, merchant_id: 1, k: 1}]\nassertions: [{type: verify}]\n",
			want: "candidates are required",
		},
		{
			name: "route without weights",
			yaml: scenarioHeader + "flow: [{op: route, merchant_id: 1, utc_day: \"2024-03-01\"}]\nassertions: [{type: verify}]\n",
			want: "route requires scenario weights",
		},
		{
			name: "unknown op",
			yaml: scenarioHeader + "flow: [{op: shuffle}]\nassertions: [{type: verify}]\n",
			want: `unknown op "shuffle"`,
		},
		{
			name: "trace totals without substream",
			yaml: scenarioHeader + "flow: [{op: hurdle, merchant_id: 1, p: 0.5}]\nassertions: [{type: trace_totals, module: 1A.hurdle}]\n",
			want: "module and substream are required",
		},
		{
			name: "unknown assertion",
			yaml: scenarioHeader + "flow: [{op: hurdle, merchant_id: 1, p: 0.5}]\nassertions: [{type: trace_contains}]\n",
			want: `unknown assertion type "trace_contains"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWeights_Source(t *testing.T) {
	w := &Weights{
		Groups: map[string][]GroupWeight{"2024-03-01": {{ID: "Europe/Berlin", Weight: 1}}},
		Sites:  map[string][]SiteWeight{"Europe/Berlin": {{ID: 10, Weight: 2}}},
	}

	groups, err := w.GroupWeights(99, "2024-03-01")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Europe/Berlin", groups[0].ID)

	sites, err := w.SiteWeights(99, "Europe/Berlin")
	require.NoError(t, err)
	require.Len(t, sites, 1)
	assert.Equal(t, uint64(10), sites[0].ID)
	assert.Equal(t, 2.0, sites[0].Weight)

	_, err = w.GroupWeights(99, "2024-03-02")
	assert.ErrorContains(t, err, "no group weights")
	_, err = w.SiteWeights(99, "Asia/Tokyo")
	assert.ErrorContains(t, err, "no site weights")
}
