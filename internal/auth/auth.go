// Package auth implements the Auth Pipeline (spec §4.F): a small set of
// composable strategies evaluated with OR semantics in configured order.
package auth

import "net/http"

// Strategy authenticates a single request. Authenticate returns
// (true, nil) on success, (false, nil) when the strategy simply does not
// grant access (try the next one), and (false, err) when the strategy
// itself failed unexpectedly (also treated as a rejection by Pipeline).
type Strategy interface {
	Authenticate(r *http.Request) (bool, error)
}

// Pipeline composes strategies with short-circuit OR semantics in the
// order they were configured.
type Pipeline struct {
	strategies []Strategy
}

// NewPipeline builds a Pipeline from the given strategies, in evaluation
// order.
func NewPipeline(strategies ...Strategy) *Pipeline {
	return &Pipeline{strategies: strategies}
}

// Authenticate returns true if any configured strategy accepts the
// request. An empty pipeline (no strategies configured) always rejects —
// callers that want unconditional access must configure OpenStrategy
// explicitly.
func (p *Pipeline) Authenticate(r *http.Request) bool {
	for _, s := range p.strategies {
		ok, err := s.Authenticate(r)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// OpenStrategy always succeeds; used when authentication.methods includes
// "open".
type OpenStrategy struct{}

func (OpenStrategy) Authenticate(*http.Request) (bool, error) { return true, nil }
