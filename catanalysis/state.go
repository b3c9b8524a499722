package catanalysis

import (
	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/internal/sets"
)

// mergeIn computes the IN state of block from the OUT states of its
// predecessors' terminators (spec.md §4.2): per-key set union across every
// lattice. The entry block (no predecessors) is seeded instead.
func mergeIn(f *Facts, block *ssa.BasicBlock) InstrState {
	if len(block.Preds) == 0 {
		return seedEntry(f, block.Parent())
	}

	in := newInstrState()
	for _, pred := range block.Preds {
		out := terminatorOut(f, pred)
		unionInto(in, out)
	}
	return in
}

// terminatorOut returns the stored OUT state of block's terminator
// instruction, or an empty state if block has not been analyzed yet.
func terminatorOut(f *Facts, block *ssa.BasicBlock) InstrState {
	if len(block.Instrs) == 0 {
		return newInstrState()
	}
	term := block.Instrs[len(block.Instrs)-1]
	if out, ok := f.Out[term]; ok {
		return out
	}
	return newInstrState()
}

// unionInto merges src into dst in place: per-key set union. Keys absent
// from src contribute nothing, matching spec.md §4.2.
func unionInto(dst InstrState, src InstrState) {
	for k, v := range src.RDA {
		if cur, ok := dst.RDA[k]; ok {
			cur.UnionWith(v)
		} else {
			dst.RDA[k] = v.Clone()
		}
	}
	for k, v := range src.Alias {
		if cur, ok := dst.Alias[k]; ok {
			cur.UnionWith(v)
		} else {
			dst.Alias[k] = v.Clone()
		}
	}
	for k, v := range src.PointsTo {
		if cur, ok := dst.PointsTo[k]; ok {
			cur.UnionWith(v)
		} else {
			dst.PointsTo[k] = v.Clone()
		}
	}
}

// seedEntry builds the entry-block IN state (spec.md §4.2): every CAT_DATA
// argument/global/free-variable gets RDA={Unknown}, every CAT_PTR one gets
// PointsTo={Unknown}, and every tagged value gets Alias={self}.
//
// Free variables are a Go-specific addition beyond the original source:
// SSA form exposes a closure's captured variables as explicit *ssa.FreeVar
// operands, which play the same "defined outside this function" role the
// original pass's global variables play for seeding.
func seedEntry(f *Facts, fn *ssa.Function) InstrState {
	in := newInstrState()

	seedOne := func(v ssa.Value) {
		switch f.Universe.Tag(v) {
		case CatData:
			in.RDA[v] = sets.Of[Def](Unknown)
			in.Alias[v] = sets.Of(v)
		case CatPtr:
			in.PointsTo[v] = sets.Of[Pointee](Unknown)
			in.Alias[v] = sets.Of(v)
		}
	}

	for _, p := range fn.Params {
		seedOne(p)
	}
	for _, fv := range fn.FreeVars {
		seedOne(fv)
	}
	if fn.Pkg != nil {
		for _, member := range fn.Pkg.Members {
			if g, ok := member.(*ssa.Global); ok {
				seedOne(g)
			}
		}
	}

	return in
}

// resetAliasInfo removes v from every class it currently belongs to, then
// reinitializes v's own class to {v}. This is the "resetAliasInfo" helper
// spec.md §4.3/§4.4 call for before recomputing a value's aliases.
func resetAliasInfo(state InstrState, v ssa.Value) {
	if cls, ok := state.Alias[v]; ok {
		for other := range cls {
			if other == v {
				continue
			}
			if ocls, ok := state.Alias[other]; ok {
				ocls.Remove(v)
			}
		}
	}
	state.Alias[v] = sets.Of(v)
}

// mergeAlias symmetrically unions op's alias class into v's class, so that
// afterwards every member of either original class lists every member of
// the combined class.
func mergeAlias(state InstrState, v, op ssa.Value) {
	merged := state.aliasClass(v).Clone()
	merged.UnionWith(state.aliasClass(op))
	merged.Add(v)
	merged.Add(op)

	for member := range merged {
		cls := state.aliasClass(member).Clone()
		cls.UnionWith(merged)
		cls.Add(member)
		state.Alias[member] = cls
	}
}
