package catanalysis

import (
	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/internal/queue"
)

// runWorklist drives the combined fixed point over fn's CFG (spec.md §4.7),
// built on the same generic queue the teacher's interprocedural worklist
// uses (internal/queue.Queue), generalized from queuing whole functions to
// queuing basic blocks within one function.
func (a *Analyzer) runWorklist(f *Facts, fn *ssa.Function) {
	var q queue.Queue[*ssa.BasicBlock]
	visited := make(map[*ssa.BasicBlock]bool)

	for _, block := range fn.Blocks {
		if len(block.Preds) == 0 {
			q.Push(block)
		}
	}

	for !q.Empty() {
		block := q.Pop()
		changed := a.runBlock(f, block)
		first := !visited[block]
		visited[block] = true

		if first || changed {
			for _, succ := range block.Succs {
				q.Push(succ)
			}
		}
	}
}

// runBlock computes IN for block, applies every instruction's transfer
// function in program order, and reports whether the terminator's OUT
// state changed (by cardinality or membership, across RDA, Alias, and
// PointsTo alike) from what was previously stored. All three lattice
// components are compared: a loop-carried pointer merge can grow PointsTo
// or Alias at a block without RDA ever changing (RDA only tracks CAT_DATA
// values, not the pointers themselves), and such a block's successors
// still need to be revisited with the refined state.
func (a *Analyzer) runBlock(f *Facts, block *ssa.BasicBlock) bool {
	state := mergeIn(f, block)

	var prevOut InstrState
	hadPrev := false
	if len(block.Instrs) > 0 {
		last := block.Instrs[len(block.Instrs)-1]
		if out, ok := f.Out[last]; ok {
			prevOut, hadPrev = out, true
		}
	}

	for _, instr := range block.Instrs {
		f.In[instr] = state.clone()
		state = a.transfer(f, instr, state)
		f.Out[instr] = state.clone()
	}

	if !hadPrev {
		return true
	}
	return !rdaEqual(prevOut.RDA, state.RDA) ||
		!aliasEqual(prevOut.Alias, state.Alias) ||
		!pointsToEqual(prevOut.PointsTo, state.PointsTo)
}

// setEqual is satisfied by DefSet, ValueSet, and PointeeSet — every set
// type in the lattice implements Equal against its own kind.
type setEqual[V any] interface {
	Equal(V) bool
}

// mapEqual reports whether two maps to comparable set values agree on
// every key's membership.
func mapEqual[K comparable, V setEqual[V]](a, b map[K]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func rdaEqual(a, b RDA) bool             { return mapEqual(a, b) }
func aliasEqual(a, b AliasMap) bool      { return mapEqual(a, b) }
func pointsToEqual(a, b PointsToMap) bool { return mapEqual(a, b) }
