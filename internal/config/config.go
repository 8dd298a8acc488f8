// Package config loads and validates run configuration.
//
// A run config is YAML. Defaults are applied first, then the whole document
// is checked against an embedded CUE schema, so every later lookup can
// trust the values it reads.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/roach88/mlrng/internal/ir"
	"github.com/roach88/mlrng/internal/substream"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied before validation.
const (
	DefaultParallelism = 4
	DefaultGroupTables = 1024
	DefaultSiteTables  = 4096
)

// Config is a complete run configuration.
type Config struct {
	Run         Run        `yaml:"run" json:"run"`
	Sampling    Sampling   `yaml:"sampling" json:"sampling"`
	AliasCache  AliasCache `yaml:"alias_cache" json:"alias_cache"`
	Parallelism int        `yaml:"parallelism" json:"parallelism"`
}

// Run identifies the run and where its records go.
type Run struct {
	RunID               string `yaml:"run_id" json:"run_id"`
	Seed                uint64 `yaml:"seed" json:"seed"`
	ParameterHash       string `yaml:"parameter_hash" json:"parameter_hash"`
	ManifestFingerprint string `yaml:"manifest_fingerprint" json:"manifest_fingerprint"`
	OutputRoot          string `yaml:"output_root" json:"output_root"`
	BuildCommit         string `yaml:"build_commit,omitempty" json:"build_commit,omitempty"`
	MasterTag           string `yaml:"master_tag,omitempty" json:"master_tag"`
	// Database is an optional SQLite path mirroring the JSONL logs.
	Database string `yaml:"database,omitempty" json:"database,omitempty"`
}

// Identity returns the run identity stamped on records.
func (r Run) Identity() ir.RunIdentity {
	return ir.RunIdentity{
		RunID:               r.RunID,
		Seed:                r.Seed,
		ParameterHash:       r.ParameterHash,
		ManifestFingerprint: r.ManifestFingerprint,
	}
}

// AliasCache bounds the router's table caches.
type AliasCache struct {
	GroupTables int `yaml:"group_tables" json:"group_tables"`
	SiteTables  int `yaml:"site_tables" json:"site_tables"`
}

// IDGenerator produces run IDs for configs that omit one.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator generates random UUIDv4 run IDs.
type UUIDGenerator struct{}

// Generate returns a new UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// Error describes an invalid configuration.
type Error struct {
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config %s: %s", e.Path, e.Message)
}

// Load reads and validates the config at path.
func Load(path string, ids IDGenerator) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Message: err.Error()}
	}
	cfg, err := Parse(data, ids)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) && ce.Path == "" {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
// Unknown fields are rejected.
func Parse(data []byte, ids IDGenerator) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &Error{Message: fmt.Sprintf("parse YAML: %v", err)}
	}

	cfg.applyDefaults(ids)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(ids IDGenerator) {
	if c.Run.RunID == "" {
		if ids == nil {
			ids = UUIDGenerator{}
		}
		c.Run.RunID = ids.Generate()
	}
	if c.Run.MasterTag == "" {
		c.Run.MasterTag = substream.DefaultMasterTag
	}
	if c.Parallelism == 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.AliasCache.GroupTables == 0 {
		c.AliasCache.GroupTables = DefaultGroupTables
	}
	if c.AliasCache.SiteTables == 0 {
		c.AliasCache.SiteTables = DefaultSiteTables
	}
}

// Validate checks c against the embedded schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return &Error{Message: fmt.Sprintf("compile schema: %v", err)}
	}

	v := ctx.Encode(c)
	if err := v.Err(); err != nil {
		return &Error{Message: fmt.Sprintf("encode: %v", err)}
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &Error{Message: err.Error()}
	}
	return nil
}
