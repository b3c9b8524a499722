package catir

import (
	"fmt"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// Builder abstracts inserting new CAT runtime calls into a function's
// instruction stream and editing existing ones. This is the "IR builder
// that can insert new calls before a given instruction" required by
// spec.md §6: constructing and linking new instructions into a live
// compiler IR is an external-collaborator concern (spec.md §1), so catir
// only specifies the interface the rewriter needs. SSABuilder below is a
// best-effort adapter over a real *ssa.Function: the two mutations go/ssa
// genuinely exposes through its public API — deleting an instruction and
// replacing all uses of a value — are implemented for real; inserting a
// brand new call instruction is not something go/ssa supports from outside
// its own package (register bookkeeping is unexported), so InsertCallBefore
// returns a SynthCall placeholder and records the intended insertion for a
// host compiler to apply.
type Builder interface {
	// InsertCallBefore records a call to callee with the given arguments,
	// conceptually placed immediately before 'before'. It returns a Value
	// standing in for the call's result; SSABuilder returns a placeholder
	// typed types.Invalid when callee has no result.
	InsertCallBefore(before ssa.Instruction, callee string, args []ssa.Value) ssa.Value

	// ReplaceAllUses rewrites every use of old to new across old's parent
	// function.
	ReplaceAllUses(old, new ssa.Value)

	// Delete removes instr from its block.
	Delete(instr ssa.Instruction)
}

// SynthCall stands in for the result of a call instruction that a Builder
// has recorded for insertion but which has not (yet) been linked into a
// real, executable IR by the host compiler.
type SynthCall struct {
	Callee string
	Args   []ssa.Value
	typ    types.Type
}

func (s *SynthCall) Name() string               { return s.Callee }
func (s *SynthCall) String() string              { return fmt.Sprintf("%s(...)", s.Callee) }
func (s *SynthCall) Type() types.Type            { return s.typ }
func (s *SynthCall) Pos() token.Pos              { return token.NoPos }
func (s *SynthCall) Parent() *ssa.Function       { return nil }
func (s *SynthCall) Referrers() *[]ssa.Instruction { return nil }

// PendingInsert records one insertion SSABuilder could not apply directly.
type PendingInsert struct {
	Before ssa.Instruction
	Callee string
	Args   []ssa.Value
	Result *SynthCall
}

// SSABuilder is a Builder backed by a real *ssa.Function.
type SSABuilder struct {
	Fn *ssa.Function

	// Pending accumulates insertions that could not be wired into Fn
	// directly. A host compiler's own IR construction step is expected to
	// replay these against its mutable representation.
	Pending []PendingInsert
}

func NewSSABuilder(fn *ssa.Function) *SSABuilder {
	return &SSABuilder{Fn: fn}
}

func (b *SSABuilder) InsertCallBefore(before ssa.Instruction, callee string, args []ssa.Value) ssa.Value {
	var typ types.Type = types.Typ[types.Invalid]
	if fn := findFunc(b.Fn, callee); fn != nil {
		if res := fn.Signature.Results(); res.Len() == 1 {
			typ = res.At(0).Type()
		} else if res.Len() > 1 {
			typ = res
		}
	}

	result := &SynthCall{Callee: callee, Args: args, typ: typ}
	b.Pending = append(b.Pending, PendingInsert{
		Before: before,
		Callee: callee,
		Args:   args,
		Result: result,
	})
	return result
}

// ReplaceAllUses rewrites every operand across old's parent function that
// points at old to instead point at new, using the exported Operands
// accessor that go/ssa provides precisely so instructions can be edited in
// place from outside the ssa package.
func (b *SSABuilder) ReplaceAllUses(old, new ssa.Value) {
	refs := old.Referrers()
	if refs == nil {
		return
	}
	for _, instr := range *refs {
		for _, rand := range instr.Operands(nil) {
			if *rand == old {
				*rand = new
			}
		}
	}
}

// Delete removes instr from its containing block's instruction list.
func (b *SSABuilder) Delete(instr ssa.Instruction) {
	block := instr.Block()
	if block == nil {
		return
	}
	out := block.Instrs[:0]
	for _, i := range block.Instrs {
		if i != instr {
			out = append(out, i)
		}
	}
	block.Instrs = out
}

func findFunc(fn *ssa.Function, name string) *ssa.Function {
	if fn.Pkg == nil {
		return nil
	}
	if member, ok := fn.Pkg.Members[name]; ok {
		if f, ok := member.(*ssa.Function); ok {
			return f
		}
	}
	return nil
}
