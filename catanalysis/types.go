// Package catanalysis implements the intraprocedural dataflow analysis
// (components B through E): type classification, reaching definitions,
// must-alias classes, and points-to sets, computed to a combined fixed
// point over one function's control-flow graph.
package catanalysis

import (
	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/internal/sets"
)

// unknownT is the comparable marker type backing Unknown.
type unknownT struct{}

// Unknown is the sentinel reaching-definition/pointee token for "defined
// outside the analyzable region or clobbered by an opaque operation".
var Unknown unknownT

// Def is a reaching-definition token: either Unknown or the
// ssa.CallInstruction that wrote a CAT box (CAT_new, CAT_set, CAT_add,
// CAT_sub).
type Def = any

// Pointee is a points-to token: either Unknown or the ssa.Value a CAT_PTR
// may point to.
type Pointee = any

// DefSet is a set of reaching-definition tokens for one CAT_DATA value.
type DefSet = sets.Set[Def]

// ValueSet is a set of ssa.Value, used for must-alias classes.
type ValueSet = sets.Set[ssa.Value]

// PointeeSet is a set of points-to tokens for one CAT_PTR value.
type PointeeSet = sets.Set[Pointee]

// RDA maps a CAT_DATA value to the set of definitions that may reach it.
type RDA map[ssa.Value]DefSet

// AliasMap maps a value to its must-alias class. Every mutator in this
// package keeps it symmetric (x in Alias[y] iff y in Alias[x]) and
// reflexive (x in Alias[x]) for every tagged value it touches.
type AliasMap map[ssa.Value]ValueSet

// PointsToMap maps a CAT_PTR value to the set of values it may point to.
type PointsToMap map[ssa.Value]PointeeSet

// InstrState is the combined lattice value attached to one program point:
// the IN or OUT of one instruction.
type InstrState struct {
	RDA      RDA
	Alias    AliasMap
	PointsTo PointsToMap
}

func newInstrState() InstrState {
	return InstrState{
		RDA:      make(RDA),
		Alias:    make(AliasMap),
		PointsTo: make(PointsToMap),
	}
}

// clone returns a copy of s whose top-level maps and every set value are
// independent of s, so mutating the copy never mutates s.
func (s InstrState) clone() InstrState {
	out := newInstrState()
	for k, v := range s.RDA {
		out.RDA[k] = v.Clone()
	}
	for k, v := range s.Alias {
		out.Alias[k] = v.Clone()
	}
	for k, v := range s.PointsTo {
		out.PointsTo[k] = v.Clone()
	}
	return out
}

// aliasClass returns the must-alias class of v. A value that has not yet
// been touched by any transfer function is treated as aliasing only
// itself, the reflexive base case.
func (s InstrState) aliasClass(v ssa.Value) ValueSet {
	if cls, ok := s.Alias[v]; ok {
		return cls
	}
	return sets.Of(v)
}

// Facts is the complete per-function analysis result: the type universe
// (component B) plus IN/OUT lattice state for every instruction (component
// C). It is owned by the worklist driver (component E) while being built,
// then read by the rewriter (component F).
type Facts struct {
	Universe *Universe

	In  map[ssa.Instruction]InstrState
	Out map[ssa.Instruction]InstrState
}

func newFacts(u *Universe) *Facts {
	return &Facts{
		Universe: u,
		In:       make(map[ssa.Instruction]InstrState),
		Out:      make(map[ssa.Instruction]InstrState),
	}
}
