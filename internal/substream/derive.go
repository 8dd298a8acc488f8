package substream

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/mlrng/internal/rng"
)

// DefaultMasterTag is the domain tag hashed into the run-level master material.
const DefaultMasterTag = "mlr:1A.master"

// FingerprintLen is the length in hex characters of a manifest fingerprint.
const FingerprintLen = 64

// Master is the 32-byte run-level secret all substreams derive from.
type Master [32]byte

// MasterMaterial computes SHA256(uer(tag) || fingerprint_bytes || LE64(seed)).
// The fingerprint must be 64 hex characters (a SHA-256 digest).
func MasterMaterial(tag, manifestFingerprint string, seed uint64) (Master, error) {
	fp, err := decodeFingerprint(manifestFingerprint)
	if err != nil {
		return Master{}, err
	}

	buf := AppendUERString(nil, tag)
	buf = append(buf, fp...)
	buf = AppendLE64(buf, seed)
	return Master(sha256.Sum256(buf)), nil
}

func decodeFingerprint(s string) ([]byte, error) {
	if len(s) != FingerprintLen {
		return nil, &rng.Error{
			Code:    rng.ErrCodeManifestFingerprint,
			Message: fmt.Sprintf("manifest fingerprint must be %d hex characters, got %d", FingerprintLen, len(s)),
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &rng.Error{
			Code:    rng.ErrCodeManifestFingerprint,
			Message: fmt.Sprintf("manifest fingerprint is not hex: %v", err),
		}
	}
	return b, nil
}

// Hex renders the master material for diagnostics.
func (m Master) Hex() string {
	return hex.EncodeToString(m[:])
}

// Derivation is the (key, counter) pair of one substream.
type Derivation struct {
	Key     uint64
	Counter rng.Counter
}

// Derive hashes master with ctx. Identical inputs always give identical
// outputs, across processes and machines.
func Derive(master Master, ctx Context) Derivation {
	h := sha256.New()
	h.Write(master[:])
	h.Write(ctx.Bytes())
	d := h.Sum(nil)

	return Derivation{
		Key:     be64(d[0:8]),
		Counter: rng.Counter{Hi: be64(d[8:16]), Lo: be64(d[16:24])},
	}
}

// Deriver binds master material so callers can open streams by context.
// A Deriver is immutable and safe for concurrent use.
type Deriver struct {
	master Master
}

// NewDeriver creates a Deriver for master.
func NewDeriver(master Master) Deriver {
	return Deriver{master: master}
}

// NewDeriverFor computes master material from run identity and returns a Deriver.
func NewDeriverFor(tag, manifestFingerprint string, seed uint64) (Deriver, error) {
	m, err := MasterMaterial(tag, manifestFingerprint, seed)
	if err != nil {
		return Deriver{}, err
	}
	return NewDeriver(m), nil
}

// Master returns the bound master material.
func (d Deriver) Master() Master {
	return d.master
}

// Derive returns the (key, counter) pair for ctx.
func (d Deriver) Derive(ctx Context) Derivation {
	return Derive(d.master, ctx)
}

// Stream opens a fresh stream for ctx, labelled with ctx.Label().
func (d Deriver) Stream(ctx Context) *rng.Stream {
	dv := Derive(d.master, ctx)
	return rng.NewStream(ctx.Label(), dv.Key, dv.Counter)
}
