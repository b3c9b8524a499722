package catrewrite_test

import (
	"go/constant"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/catopt/catopt/catanalysis"
	"github.com/catopt/catopt/catdiag"
	"github.com/catopt/catopt/catir"
	"github.com/catopt/catopt/catoracle"
	"github.com/catopt/catopt/catrewrite"
	"github.com/catopt/catopt/pkgutil"
)

const catRuntime = `
package main

type CATBox struct{ _ int64 }

func CAT_new(v int64) *CATBox
func CAT_get(b *CATBox) int64
func CAT_set(b *CATBox, v int64)
func CAT_add(dst, a, b *CATBox)
func CAT_sub(dst, a, b *CATBox)
func CAT_destroy(b *CATBox)
`

func loadMain(t *testing.T, source string) *ssa.Function {
	t.Helper()

	pkgs, err := pkgutil.LoadPackagesFromSource(source)
	require.NoError(t, err)

	prog, spkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	require.NotEmpty(t, spkgs)
	fn := spkgs[0].Func("main")
	require.NotNil(t, fn)
	return fn
}

func findCall(fn *ssa.Function, name string) ssa.CallInstruction {
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if call, ok := instr.(ssa.CallInstruction); ok {
				if n, ok := catir.CallName(call); ok && n == name {
					return call
				}
			}
		}
	}
	return nil
}

func plan(t *testing.T, fn *ssa.Function) []*catrewrite.Edit {
	t.Helper()
	facts := catanalysis.New(catoracle.Conservative{}, catdiag.Discard{}).Run(fn)
	return catrewrite.Plan(fn, facts)
}

// editDeleting returns the Edit (if any) whose Delete is instr.
func editDeleting(edits []*catrewrite.Edit, instr ssa.Instruction) *catrewrite.Edit {
	for _, e := range edits {
		if e.Delete == instr {
			return e
		}
	}
	return nil
}

func constInt(t *testing.T, op catrewrite.Operand) int64 {
	t.Helper()
	c, ok := op.(*ssa.Const)
	require.True(t, ok, "operand must be a constant, got %T", op)
	v, ok := constant.Int64Val(c.Value)
	require.True(t, ok)
	return v
}

func TestNoCATCallsUnchanged(t *testing.T) {
	fn := loadMain(t, `
package main

func main() {
	x := 1
	y := x + 1
	_ = y
}`)

	facts := catanalysis.New(catoracle.Conservative{}, catdiag.Discard{}).Run(fn)
	edits := catrewrite.Plan(fn, facts)
	assert.Empty(t, edits, "a function with no CAT calls must produce no edits")
}

func TestConstantFoldTwoConstants(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func main() {
	r := CAT_new(0)
	a := CAT_new(3)
	b := CAT_new(4)
	CAT_add(r, a, b)
	v := CAT_get(r)
	_ = v
}`)

	edits := plan(t, fn)

	add := findCall(fn, "CAT_add")
	require.NotNil(t, add)

	edit := editDeleting(edits, add)
	require.NotNil(t, edit, "CAT_add must be marked for deletion")
	require.Len(t, edit.Insertions, 1)
	assert.Equal(t, "CAT_set", edit.Insertions[0].Callee)
	assert.Equal(t, int64(7), constInt(t, edit.Insertions[0].Args[1]))

	// CAT_get(r) is not yet foldable in this same round: its reaching
	// definition is still the CAT_add call itself (constantOf returns nil
	// for CAT_add/CAT_sub sources), exactly as in the original pass, where
	// constant propagation only sees the newly inserted CAT_set after the
	// host compiler re-runs the analysis.
	get := findCall(fn, "CAT_get")
	require.NotNil(t, get)
	assert.Nil(t, editDeleting(edits, get))
}

func TestConstantPropagationFromDirectSet(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func main() {
	r := CAT_new(5)
	v := CAT_get(r)
	_ = v
}`)

	edits := plan(t, fn)

	get := findCall(fn, "CAT_get")
	require.NotNil(t, get)

	edit := editDeleting(edits, get)
	require.NotNil(t, edit, "CAT_get(r) right after CAT_new(5) must be replaced")
	assert.Equal(t, int64(5), constInt(t, edit.ReplaceWith))
}

func TestPhiMergeKillsConstantness(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool() bool

func main() {
	x := CAT_new(0)
	if ubool() {
		CAT_set(x, 1)
	} else {
		CAT_set(x, 2)
	}
	v := CAT_get(x)
	_ = v
}`)

	edits := plan(t, fn)

	get := findCall(fn, "CAT_get")
	require.NotNil(t, get)
	assert.Nil(t, editDeleting(edits, get),
		"merging two different constant definitions of x must not be foldable")
}

func TestPhiMergeAgrees(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool() bool

func main() {
	x := CAT_new(0)
	if ubool() {
		CAT_set(x, 5)
	} else {
		CAT_set(x, 5)
	}
	v := CAT_get(x)
	_ = v
}`)

	edits := plan(t, fn)

	get := findCall(fn, "CAT_get")
	require.NotNil(t, get)
	edit := editDeleting(edits, get)
	require.NotNil(t, edit, "both branches agreeing on 5 must be foldable")
	assert.Equal(t, int64(5), constInt(t, edit.ReplaceWith))
}

func TestPointerEscapeBlocksPropagation(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func opaque(p **CATBox)

func main() {
	p := new(*CATBox)
	a := CAT_new(8)
	*p = a
	opaque(p)
	v := CAT_get(a)
	_ = v
}`)

	edits := plan(t, fn)

	get := findCall(fn, "CAT_get")
	require.NotNil(t, get)
	assert.Nil(t, editDeleting(edits, get),
		"a conservative oracle's Mod response on an escaped pointer must block propagation")
}

func TestSelfSubtraction(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool() bool

func main() {
	d := CAT_new(0)
	x := CAT_new(ubool2())
	CAT_sub(d, x, x)
}

func ubool2() int64`)

	edits := plan(t, fn)

	sub := findCall(fn, "CAT_sub")
	require.NotNil(t, sub)
	edit := editDeleting(edits, sub)
	require.NotNil(t, edit)
	require.Len(t, edit.Insertions, 1)
	assert.Equal(t, "CAT_set", edit.Insertions[0].Callee)
	assert.Equal(t, int64(0), constInt(t, edit.Insertions[0].Args[1]))
}

func TestZeroAddSimplification(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool2() int64

func main() {
	d := CAT_new(0)
	y := CAT_new(ubool2())
	k := CAT_new(0)
	CAT_add(d, y, k)
}`)

	edits := plan(t, fn)

	add := findCall(fn, "CAT_add")
	require.NotNil(t, add)
	edit := editDeleting(edits, add)
	require.NotNil(t, edit, "y + 0 must simplify to get(y)")
	require.Len(t, edit.Insertions, 2)
	assert.Equal(t, "CAT_get", edit.Insertions[0].Callee)
	assert.Equal(t, "CAT_set", edit.Insertions[1].Callee)
}

func TestZeroAddSimplificationLeftOperand(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool2() int64

func main() {
	d := CAT_new(0)
	k := CAT_new(0)
	y := CAT_new(ubool2())
	CAT_add(d, k, y)
}`)

	edits := plan(t, fn)

	add := findCall(fn, "CAT_add")
	require.NotNil(t, add)
	edit := editDeleting(edits, add)
	require.NotNil(t, edit, "0 + y must simplify to get(y) too")
	require.Len(t, edit.Insertions, 2)
}

func TestZeroSubLeftOperandNotSimplified(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool2() int64

func main() {
	d := CAT_new(0)
	k := CAT_new(0)
	y := CAT_new(ubool2())
	CAT_sub(d, k, y)
}`)

	edits := plan(t, fn)

	sub := findCall(fn, "CAT_sub")
	require.NotNil(t, sub)
	assert.Nil(t, editDeleting(edits, sub),
		"0 - y is deliberately not simplified: it would require negating a non-constant")
}

func TestIdempotentRewrite(t *testing.T) {
	// A program already in "rewritten" form: direct CAT_set calls and
	// constants only, no CAT_add/CAT_sub to fold and no foldable CAT_get.
	fn := loadMain(t, catRuntime+`
func ubool() bool

func main() {
	x := CAT_new(1)
	if ubool() {
		CAT_set(x, 2)
	}
}`)

	edits := plan(t, fn)
	for _, e := range edits {
		assert.Nil(t, e.Delete, "nothing left to fold or propagate in an already-rewritten function")
	}
}

func TestApplyRecordsInsertionsDeletesAndReplacements(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func main() {
	r := CAT_new(0)
	a := CAT_new(3)
	b := CAT_new(4)
	CAT_add(r, a, b)
	v := CAT_get(a)
	_ = v
}`)

	edits := plan(t, fn)
	rec := &recordingBuilder{}
	changed := catrewrite.Apply(edits, rec)

	assert.True(t, changed)
	assert.NotEmpty(t, rec.deleted)
	assert.NotEmpty(t, rec.replaced, "propagating CAT_get(a) must record a use replacement")
	found := false
	for _, ins := range rec.inserted {
		if ins.callee == "CAT_set" {
			found = true
		}
	}
	assert.True(t, found, "folding CAT_add must record a CAT_set insertion")
}

type insertedCall struct {
	callee string
	args   []ssa.Value
}

type recordingBuilder struct {
	inserted []insertedCall
	replaced [][2]ssa.Value
	deleted  []ssa.Instruction
}

func (b *recordingBuilder) InsertCallBefore(_ ssa.Instruction, callee string, args []ssa.Value) ssa.Value {
	b.inserted = append(b.inserted, insertedCall{callee: callee, args: args})
	return &catir.SynthCall{Callee: callee, Args: args}
}

func (b *recordingBuilder) ReplaceAllUses(old, new ssa.Value) {
	b.replaced = append(b.replaced, [2]ssa.Value{old, new})
}

func (b *recordingBuilder) Delete(instr ssa.Instruction) {
	b.deleted = append(b.deleted, instr)
}
