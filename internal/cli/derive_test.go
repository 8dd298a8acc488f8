package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mlrng/internal/substream"
)

// testFingerprint is sha256("manifest").
const testFingerprint = "05b3abf2579a5eb66403cd78be557fd860633a1fe2103c7642030defe32c657f"

func TestDerive_JSONRegression(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "derive",
		"--fingerprint", testFingerprint, "--seed", "42",
		"--field", "s:mlr:1A", "--field", "s:hurdle", "--field", "u:7")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   DeriveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "94a511f6f6b3a477008bea21702d204a2d12284252f931a246ecdde6a1e71e80", resp.Data.Master)
	assert.Equal(t, "mlr:1A|hurdle|7", resp.Data.Label)
	assert.Equal(t, uint64(17520155283013116212), resp.Data.Key)
	assert.Equal(t, uint64(1206108442436044267), resp.Data.CounterHi)
	assert.Equal(t, uint64(13000630965787451573), resp.Data.CounterLo)
	assert.Equal(t, []float64{0.42631625006892004, 0.1973045776621215}, resp.Data.Uniforms)
}

func TestDerive_Text(t *testing.T) {
	out, err := executeCommand(t, "derive",
		"--fingerprint", testFingerprint, "--seed", "42",
		"--field", "s:mlr:1A", "--field", "s:hurdle", "--field", "u:7", "--draws", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "label:   mlr:1A|hurdle|7")
	assert.Contains(t, out, "key:     17520155283013116212")
	assert.Contains(t, out, "u[0]:    0.42631625006892004")
	assert.NotContains(t, out, "u[1]")
}

func TestDerive_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing fingerprint", []string{"derive"}, "fingerprint"},
		{"short fingerprint", []string{"derive", "--fingerprint", "abcd"}, "master material"},
		{"bad field", []string{"derive", "--fingerprint", testFingerprint, "--field", "x"}, "invalid field"},
		{"negative draws", []string{"derive", "--fingerprint", testFingerprint, "--draws", "-1"}, "draws must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseField(t *testing.T) {
	f, err := parseField("s:mlr:1B")
	require.NoError(t, err)
	assert.Equal(t, substream.Str("mlr:1B"), f)

	f, err = parseField("u:18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, substream.U64(18446744073709551615), f)

	f, err = parseField("i:-1")
	require.NoError(t, err)
	assert.Equal(t, substream.I64(-1), f)
	assert.Equal(t, substream.U64(18446744073709551615), f)

	for _, bad := range []string{"nocolon", "u:abc", "i:1.5", "f:1"} {
		_, err := parseField(bad)
		assert.Error(t, err, bad)
	}
}
