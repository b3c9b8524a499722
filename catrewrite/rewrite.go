// Package catrewrite implements the rewriter (component F): constant
// folding and algebraic simplification (pass 1), then constant propagation
// (pass 2), over the facts catanalysis computes. Both passes collect an
// edit script before mutating anything, the same two-list
// collect-then-edit pattern the original pass uses, generalized here into
// a pure Plan step and a separate Apply step that performs mutation
// through catir.Builder.
package catrewrite

import (
	"go/constant"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/catanalysis"
	"github.com/catopt/catopt/catir"
	islices "github.com/catopt/catopt/internal/slices"
)

// Operand is either a concrete ssa.Value or a *Insertion standing in for
// the result of an earlier insertion within the same edit script.
type Operand any

// Insertion records one new CAT runtime call to splice in immediately
// before Before.
type Insertion struct {
	Before ssa.Instruction
	Callee string
	Args   []Operand
}

// Edit is one atomic rewrite. Insertions run first (in order), then, if
// ReplaceUsesOf is set, every use of it is rerouted to ReplaceWith, then
// Delete is removed if set.
type Edit struct {
	Insertions    []*Insertion
	Delete        ssa.Instruction
	ReplaceUsesOf ssa.Value
	ReplaceWith   ssa.Value
}

// Plan computes the full edit script for fn from facts without mutating
// anything, running both passes of spec §4.8 in order.
func Plan(fn *ssa.Function, facts *catanalysis.Facts) []*Edit {
	var edits []*Edit
	edits = append(edits, planFoldSimplify(fn, facts)...)
	edits = append(edits, planPropagate(fn, facts)...)
	return edits
}

// Apply performs the mutations edits describes through builder, returning
// true iff at least one instruction was deleted — the signal the pass
// manager is expected to use to decide whether to re-run the analysis.
func Apply(edits []*Edit, builder catir.Builder) bool {
	changed := false
	results := make(map[*Insertion]ssa.Value)

	for _, edit := range edits {
		for _, ins := range edit.Insertions {
			args := islices.Map(ins.Args, func(op Operand) ssa.Value {
				return resolveOperand(op, results)
			})
			results[ins] = builder.InsertCallBefore(ins.Before, ins.Callee, args)
		}
		if edit.ReplaceUsesOf != nil && edit.ReplaceWith != nil {
			builder.ReplaceAllUses(edit.ReplaceUsesOf, edit.ReplaceWith)
		}
		if edit.Delete != nil {
			builder.Delete(edit.Delete)
			changed = true
		}
	}
	return changed
}

func resolveOperand(op Operand, results map[*Insertion]ssa.Value) ssa.Value {
	switch v := op.(type) {
	case ssa.Value:
		return v
	case *Insertion:
		return results[v]
	default:
		return nil
	}
}

// planFoldSimplify implements pass 1 of spec.md §4.8: on each CAT_add /
// CAT_sub call C with operands (dst, a, b).
func planFoldSimplify(fn *ssa.Function, facts *catanalysis.Facts) []*Edit {
	var edits []*Edit

	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			name, ok := catir.CallName(call)
			if !ok || (name != "CAT_add" && name != "CAT_sub") {
				continue
			}
			args := call.Common().Args
			if len(args) < 3 {
				continue
			}
			dst, a, b := args[0], args[1], args[2]

			// Case 1: self-subtraction, unconditional on constantness.
			if name == "CAT_sub" && a == b {
				edits = append(edits, &Edit{
					Insertions: []*Insertion{
						{Before: instr, Callee: "CAT_set", Args: []Operand{dst, intConst(0)}},
					},
					Delete: instr,
				})
				continue
			}

			k1 := constantOf(facts.ReachingDefsIn(instr, a))
			k2 := constantOf(facts.ReachingDefsIn(instr, b))

			// Case 3: both operands constant — fold.
			if k1 != nil && k2 != nil {
				if folded, ok := foldConstants(name, k1, k2); ok {
					edits = append(edits, &Edit{
						Insertions: []*Insertion{
							{Before: instr, Callee: "CAT_set", Args: []Operand{dst, folded}},
						},
						Delete: instr,
					})
				}
				continue
			}

			// Case 4: k2 == 0, k1 not statically known — x ± 0 -> get(x).
			if k1 == nil && k2 != nil && isZero(k2) {
				get := &Insertion{Before: instr, Callee: "CAT_get", Args: []Operand{a}}
				set := &Insertion{Before: instr, Callee: "CAT_set", Args: []Operand{dst, get}}
				edits = append(edits, &Edit{Insertions: []*Insertion{get, set}, Delete: instr})
				continue
			}

			// Case 5: k1 == 0, k2 not statically known, add only — the
			// CAT_sub analog would require negating a non-constant and is
			// deliberately not handled.
			if name == "CAT_add" && k2 == nil && k1 != nil && isZero(k1) {
				get := &Insertion{Before: instr, Callee: "CAT_get", Args: []Operand{b}}
				set := &Insertion{Before: instr, Callee: "CAT_set", Args: []Operand{dst, get}}
				edits = append(edits, &Edit{Insertions: []*Insertion{get, set}, Delete: instr})
				continue
			}
		}
	}

	return edits
}

// planPropagate implements pass 2 of spec.md §4.8: on each CAT_get(x) call
// G, if x's reaching definition resolves to a unique constant, replace
// every use of G with that constant and delete G.
func planPropagate(fn *ssa.Function, facts *catanalysis.Facts) []*Edit {
	var edits []*Edit

	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			call, ok := instr.(ssa.CallInstruction)
			if !ok {
				continue
			}
			name, ok := catir.CallName(call)
			if !ok || name != "CAT_get" {
				continue
			}
			args := call.Common().Args
			if len(args) < 1 {
				continue
			}

			k := constantOf(facts.ReachingDefsIn(instr, args[0]))
			if k == nil {
				continue
			}
			cv, ok := call.(ssa.Value)
			if !ok {
				continue
			}
			edits = append(edits, &Edit{
				ReplaceUsesOf: cv,
				ReplaceWith:   k,
				Delete:        instr,
			})
		}
	}

	return edits
}

// constantOf implements spec.md §4.8's constantOf(v, rda): every
// definition in rda must agree on the same integer constant for a result
// to exist. rda is read, not v itself — the value is only used by the
// caller to pick which DefSet to pass in.
func constantOf(rda catanalysis.DefSet) *ssa.Const {
	if len(rda) == 0 {
		return nil
	}

	var result *ssa.Const
	for d := range rda {
		if d == catanalysis.Unknown {
			return nil
		}

		call, ok := d.(ssa.CallInstruction)
		if !ok {
			return nil
		}
		name, ok := catir.CallName(call)
		if !ok {
			return nil
		}

		args := call.Common().Args
		var candidate ssa.Value
		switch name {
		case "CAT_new":
			if len(args) < 1 {
				return nil
			}
			candidate = args[0]
		case "CAT_set":
			if len(args) < 2 {
				return nil
			}
			candidate = args[1]
		default:
			// CAT_add, CAT_sub, and any opaque source are not constant.
			return nil
		}

		c, ok := candidate.(*ssa.Const)
		if !ok || c.Value == nil || c.Value.Kind() != constant.Int {
			return nil
		}

		if result == nil {
			result = c
		} else if !constant.Compare(result.Value, token.EQL, c.Value) {
			return nil
		}
	}

	return result
}

func foldConstants(name string, k1, k2 *ssa.Const) (*ssa.Const, bool) {
	v1, ok1 := constant.Int64Val(k1.Value)
	v2, ok2 := constant.Int64Val(k2.Value)
	if !ok1 || !ok2 {
		return nil, false
	}
	switch name {
	case "CAT_add":
		return intConst(v1 + v2), true
	case "CAT_sub":
		return intConst(v1 - v2), true
	default:
		return nil, false
	}
}

func isZero(c *ssa.Const) bool {
	v, ok := constant.Int64Val(c.Value)
	return ok && v == 0
}

// intConst builds a new int64 constant, the type spec.md §6 gives CAT_new
// and CAT_set's numeric argument.
func intConst(n int64) *ssa.Const {
	return ssa.NewConst(constant.MakeInt64(n), types.Typ[types.Int64])
}
