package rng

import "fmt"

// Envelope describes the RNG consumption of one event: the counter before
// and after, the number of Philox blocks consumed and the number of uniforms
// actually used.
type Envelope struct {
	Before Counter
	After  Counter
	Blocks uint32
	Draws  uint64
}

// Check verifies After == Before + Blocks without wrapping.
func (e Envelope) Check() error {
	want, err := e.Before.Add(uint64(e.Blocks))
	if err != nil {
		return err
	}
	if want != e.After {
		return fmt.Errorf("envelope %s -> %s covers %d blocks", e.Before, e.After, e.Blocks)
	}
	return nil
}

// Extend returns the envelope covering e followed immediately by next.
// next must start where e ends.
func (e Envelope) Extend(next Envelope) (Envelope, error) {
	if next.Before != e.After {
		return e, fmt.Errorf("envelope %s does not continue at %s", next.Before, e.After)
	}
	return Envelope{
		Before: e.Before,
		After:  next.After,
		Blocks: e.Blocks + next.Blocks,
		Draws:  e.Draws + next.Draws,
	}, nil
}

// Stream is a cursor over one substream: a fixed key and an advancing
// counter. A Stream is not safe for concurrent use; draws within one
// substream are strictly sequential.
type Stream struct {
	label string
	key   uint64
	ctr   Counter
}

// NewStream creates a Stream positioned at ctr.
func NewStream(label string, key uint64, ctr Counter) *Stream {
	return &Stream{label: label, key: key, ctr: ctr}
}

// Label returns the substream label used in events and errors.
func (s *Stream) Label() string {
	return s.label
}

// Key returns the immutable substream key.
func (s *Stream) Key() uint64 {
	return s.key
}

// Counter returns the counter of the next block to be consumed.
func (s *Stream) Counter() Counter {
	return s.ctr
}

// Block consumes one Philox block and returns both output words.
// The stream does not move if the counter would wrap.
func (s *Stream) Block() ([2]uint64, Envelope, error) {
	before := s.ctr
	after, err := before.Add(1)
	if err != nil {
		if re, ok := err.(*Error); ok {
			re.Substream = s.label
		}
		return [2]uint64{}, Envelope{}, err
	}

	w0, w1 := Permute(before, s.key)
	s.ctr = after
	return [2]uint64{w0, w1}, Envelope{Before: before, After: after, Blocks: 1}, nil
}

// Uniform consumes one block and returns lane 0 as an open-interval uniform.
func (s *Stream) Uniform() (float64, Envelope, error) {
	words, env, err := s.Block()
	if err != nil {
		return 0, env, err
	}
	env.Draws = 1
	return U01(words[0]), env, nil
}

// UniformPair consumes one block and returns both lanes as uniforms.
func (s *Stream) UniformPair() (float64, float64, Envelope, error) {
	words, env, err := s.Block()
	if err != nil {
		return 0, 0, env, err
	}
	env.Draws = 2
	return U01(words[0]), U01(words[1]), env, nil
}

// Normal consumes one block and returns a standard normal deviate.
func (s *Stream) Normal() (float64, Envelope, error) {
	u1, u2, env, err := s.UniformPair()
	if err != nil {
		return 0, env, err
	}
	return Normal(u1, u2), env, nil
}
