package catanalysis

import (
	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/catdiag"
	"github.com/catopt/catopt/catoracle"
)

// Analyzer runs the combined fixed-point computation (components B-E) over
// one function at a time. A single Analyzer may be reused across many
// functions; Run resets all per-function state before use, so residue from
// a previous function cannot leak into the next (spec.md §5).
type Analyzer struct {
	oracle catoracle.Oracle
	diag   catdiag.Sink
}

// New returns an Analyzer. oracle answers the opaque-call mod/ref queries
// of spec.md §4.6; diag receives the non-fatal diagnostics of §7. Passing
// nil for either substitutes catoracle.Conservative and catdiag.Stderr.
func New(oracle catoracle.Oracle, diag catdiag.Sink) *Analyzer {
	if oracle == nil {
		oracle = catoracle.Conservative{}
	}
	if diag == nil {
		diag = catdiag.Stderr{}
	}
	return &Analyzer{oracle: oracle, diag: diag}
}

// Run analyzes fn to a fixed point and returns the resulting Facts: the
// type universe (B) and the full IN/OUT lattice state (C) for every
// instruction in fn.
func (a *Analyzer) Run(fn *ssa.Function) *Facts {
	universe := classify(fn)
	f := newFacts(universe)
	a.runWorklist(f, fn)
	return f
}
