package config

// Knobs are per-module sampling settings. Unset fields inherit.
type Knobs struct {
	MaxCandidates    *int  `yaml:"max_candidates,omitempty" json:"max_candidates,omitempty"`
	LogAllCandidates *bool `yaml:"log_all_candidates,omitempty" json:"log_all_candidates,omitempty"`
	FailOnDegrade    *bool `yaml:"fail_on_degrade,omitempty" json:"fail_on_degrade,omitempty"`
}

// Merge returns k with every field set in o replacing k's value.
func (k Knobs) Merge(o Knobs) Knobs {
	out := k
	if o.MaxCandidates != nil {
		out.MaxCandidates = o.MaxCandidates
	}
	if o.LogAllCandidates != nil {
		out.LogAllCandidates = o.LogAllCandidates
	}
	if o.FailOnDegrade != nil {
		out.FailOnDegrade = o.FailOnDegrade
	}
	return out
}

// Resolved is a fully specified set of knobs.
type Resolved struct {
	MaxCandidates    int
	LogAllCandidates bool
	FailOnDegrade    bool
}

// Resolve fills unset fields with zero values: no cap, selected-only
// logging and degraded outcomes reported rather than failed.
func (k Knobs) Resolve() Resolved {
	var r Resolved
	if k.MaxCandidates != nil {
		r.MaxCandidates = *k.MaxCandidates
	}
	if k.LogAllCandidates != nil {
		r.LogAllCandidates = *k.LogAllCandidates
	}
	if k.FailOnDegrade != nil {
		r.FailOnDegrade = *k.FailOnDegrade
	}
	return r
}

// Sampling holds global defaults and per-module overrides.
type Sampling struct {
	Defaults  Knobs            `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Overrides map[string]Knobs `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// For resolves the knobs of module: defaults merged with its override.
func (s Sampling) For(module string) Resolved {
	k := s.Defaults
	if o, ok := s.Overrides[module]; ok {
		k = k.Merge(o)
	}
	return k.Resolve()
}
