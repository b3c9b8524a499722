package catoracle_test

import (
	"go/ast"
	"go/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/catopt/catopt/catoracle"
	"github.com/catopt/catopt/pkgutil"
)

func TestConservativeAlwaysReportsMod(t *testing.T) {
	var o catoracle.Conservative
	got := o.ModRefInfo(nil, nil, 0)
	assert.Equal(t, catoracle.Mod, got)
	assert.True(t, got.MayModify())
}

func TestModRefMayModify(t *testing.T) {
	assert.False(t, catoracle.NoModRef.MayModify())
	assert.False(t, catoracle.Ref.MayModify())
	assert.True(t, catoracle.Mod.MayModify())
	assert.True(t, catoracle.ModRef_.MayModify())
	assert.True(t, catoracle.MustMod.MayModify())
}

// buildAndersen loads source, builds SSA, and runs a whole-program Andersen
// analysis with every pointer-typed parameter and instruction value of every
// function queried and the call graph built.
func buildAndersen(t *testing.T, source string) (*catoracle.Andersen, *ssa.Function, map[string]ssa.Value) {
	t.Helper()

	pkgs, err := pkgutil.LoadPackagesFromSource(source)
	require.NoError(t, err)

	prog, spkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions|ssa.GlobalDebug)
	prog.Build()
	require.NotEmpty(t, spkgs)

	fn := spkgs[0].Func("main")
	require.NotNil(t, fn)

	// named maps source-level identifiers (e.g. "x") to their ssa.Value,
	// using the DebugRef instructions produced by ssa.GlobalDebug: plain
	// ssa.Value.Name() only yields register names like "t0", never the
	// original source name.
	named := make(map[string]ssa.Value)
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if dr, ok := instr.(*ssa.DebugRef); ok {
				if id, ok := dr.Expr.(*ast.Ident); ok {
					named[id.Name] = dr.X
				}
			}
		}
	}

	// queries registers every pointer-typed value across every reachable
	// function (not just main): Andersen's calleeMayStore needs a store's
	// address operand — typically a callee parameter — to already have a
	// points-to set on file, the same requirement NewAndersen's doc comment
	// describes for ModRefInfo's own ptr argument.
	queries := make(map[ssa.Value]struct{})
	for f := range ssautil.AllFunctions(prog) {
		for _, param := range f.Params {
			if _, ok := param.Type().Underlying().(*types.Pointer); ok {
				queries[param] = struct{}{}
			}
		}
		for _, block := range f.Blocks {
			for _, instr := range block.Instrs {
				v, ok := instr.(ssa.Value)
				if !ok {
					continue
				}
				if _, ok := v.Type().Underlying().(*types.Pointer); ok {
					queries[v] = struct{}{}
				}
			}
		}
	}

	a, err := catoracle.NewAndersen(&pointer.Config{
		Mains:          []*ssa.Package{spkgs[0]},
		Queries:        queries,
		BuildCallGraph: true,
	})
	require.NoError(t, err)
	return a, fn, named
}

func TestAndersenReportsRefWhenNoCalleeStores(t *testing.T) {
	a, fn, named := buildAndersen(t, `
package main

func noop(p *int) {}

func main() {
	x := new(int)
	noop(x)
}`)

	var call ssa.CallInstruction
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if c, ok := instr.(ssa.CallInstruction); ok {
				call = c
			}
		}
	}
	require.NotNil(t, call)

	got := a.ModRefInfo(call, named["x"], 8)
	assert.Equal(t, catoracle.Ref, got)
}

func TestAndersenReportsModWhenCalleeStores(t *testing.T) {
	a, fn, named := buildAndersen(t, `
package main

func setter(p *int) { *p = 5 }

func main() {
	x := new(int)
	setter(x)
}`)

	var call ssa.CallInstruction
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if c, ok := instr.(ssa.CallInstruction); ok {
				call = c
			}
		}
	}
	require.NotNil(t, call)

	got := a.ModRefInfo(call, named["x"], 8)
	assert.Equal(t, catoracle.Mod, got)
}

// TestAndersenCacheIsPerPointerNotPerFunction guards against caching a
// single boolean keyed only on the callee: setOne stores through its first
// parameter and never touches its second, so within one call the two
// arguments must still get different verdicts no matter which is queried
// first. A cache keyed only on *ssa.Function would answer the second query
// with whatever verdict the first one computed.
func TestAndersenCacheIsPerPointerNotPerFunction(t *testing.T) {
	a, fn, named := buildAndersen(t, `
package main

func setOne(stored, untouched *int) { *stored = 5 }

func main() {
	x := new(int)
	y := new(int)
	setOne(x, y)
}`)

	var call ssa.CallInstruction
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			if c, ok := instr.(ssa.CallInstruction); ok {
				call = c
			}
		}
	}
	require.NotNil(t, call)

	// Query the untouched argument first, so a per-function cache would
	// latch onto "false" before the stored argument is ever asked about.
	assert.Equal(t, catoracle.Ref, a.ModRefInfo(call, named["y"], 8))
	assert.Equal(t, catoracle.Mod, a.ModRefInfo(call, named["x"], 8))
}
