package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mlrng/internal/rng"
)

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	return resp
}

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Success(map[string]string{"result": "success"}))
	resp := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)

	buf.Reset()
	details := map[string]string{"run_id": "run-1", "algorithm": "philox2x64-10"}
	require.NoError(t, f.Error("E_AUDIT_MISMATCH", "audit mismatch", details))
	resp = decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_AUDIT_MISMATCH", resp.Error.Code)
	assert.Equal(t, "audit mismatch", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_Text(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		want    []string
		absent  []string
	}{
		{"quiet", false, []string{"Error [E_RNG_ENVELOPE]: envelope check failed"}, []string{"Details:"}},
		{"verbose", true, []string{"Error [E_RNG_ENVELOPE]", "Details: map[substream:mlr:1A|hurdle|7]"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}
			require.NoError(t, f.Error("E_RNG_ENVELOPE", "envelope check failed", map[string]string{"substream": "mlr:1A|hurdle|7"}))
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}

	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, f.Success("logs consistent"))
	assert.Equal(t, "logs consistent\n", buf.String())
}

func TestOutputFormatter_Respond(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Respond(CLIResponse{Status: "ok", Data: map[string]int{"events": 9}, RunID: "run-1"}))
	assert.Contains(t, buf.String(), "\n  \"status\": \"ok\"")
	resp := decodeResponse(t, buf)
	assert.Equal(t, "run-1", resp.RunID)
}

func TestOutputFormatter_Fail(t *testing.T) {
	re := &rng.Error{Code: rng.ErrCodeEnvelope, Message: "after != before + blocks"}

	buf := &bytes.Buffer{}
	(&OutputFormatter{Format: "json", Writer: buf}).Fail(fmt.Errorf("record: %w", re))
	resp := decodeResponse(t, buf)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_RNG_ENVELOPE", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "record:")

	buf.Reset()
	(&OutputFormatter{Format: "text", Writer: buf}).Fail(re)
	assert.Empty(t, buf.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}
	f.VerboseLog("reading %s", "events.jsonl")
	assert.Empty(t, out.String())
	assert.Equal(t, "reading events.jsonl\n", diag.String())

	out.Reset()
	f = &OutputFormatter{Format: "text", Writer: out, Verbose: true}
	f.VerboseLog("fallback")
	assert.Equal(t, "fallback\n", out.String())

	out.Reset()
	f = &OutputFormatter{Format: "text", Writer: out}
	f.VerboseLog("hidden")
	assert.Empty(t, out.String())
}

func TestNewFormatter(t *testing.T) {
	cmd := &cobra.Command{}
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(diag)

	f := newFormatter(&RootOptions{Format: "json", Verbose: true}, cmd)
	assert.True(t, f.JSON())
	assert.True(t, f.Verbose)
	assert.Same(t, out, f.Writer)
	assert.Same(t, diag, f.ErrWriter)
}

func TestErrorCode(t *testing.T) {
	re := &rng.Error{Code: rng.ErrCodeAuditMismatch, Message: "audit mismatch"}
	assert.Equal(t, "E_AUDIT_MISMATCH", ErrorCode(re))
	assert.Equal(t, "E_AUDIT_MISMATCH", ErrorCode(fmt.Errorf("start: %w", re)))
	assert.Equal(t, ErrCodeGeneric, ErrorCode(errors.New("plain")))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "no db")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitFailure, "bad"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	err := WrapExitError(ExitCommandError, "open", errors.New("denied"))
	assert.Equal(t, "open: denied", err.Error())
	assert.EqualError(t, errors.Unwrap(err), "denied")
}
