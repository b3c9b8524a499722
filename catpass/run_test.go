package catpass_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/catopt/catopt/catdiag"
	"github.com/catopt/catopt/catoracle"
	"github.com/catopt/catopt/catpass"
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

func TestRunToFixpointStopsWithoutEdits(t *testing.T) {
	fn := loadMain(t, `
package main

func main() {
	x := 1
	_ = x
}`)

	result := catpass.RunToFixpoint(catpass.DefaultConfig(), fn, catoracle.Conservative{}, catdiag.Discard{})
	assert.Equal(t, 1, result.Rounds)
	assert.False(t, result.Changed)
	assert.Empty(t, result.Pending)
}

func TestRunToFixpointSelfSubtractionStopsAfterInsertionRound(t *testing.T) {
	fn := loadMain(t, catRuntime+`
func ubool2() int64

func main() {
	d := CAT_new(0)
	x := CAT_new(ubool2())
	CAT_sub(d, x, x)
}`)

	result := catpass.RunToFixpoint(catpass.DefaultConfig(), fn, catoracle.Conservative{}, catdiag.Discard{})

	// The self-subtraction fold deletes the real CAT_sub call but can only
	// record its replacement CAT_set in Pending, since SSABuilder cannot
	// link a synthesized call into the instruction stream. A second round
	// would analyze a body missing both, so the run stops after round 1.
	assert.Equal(t, 1, result.Rounds)
	assert.True(t, result.Changed)
	require.Len(t, result.Pending, 1)
	assert.Equal(t, "CAT_set", result.Pending[0].Callee)
}

func TestBuildOracleFallsBackWhenNotAndersen(t *testing.T) {
	oracle := catpass.BuildOracle(catpass.DefaultConfig(), nil, catdiag.Discard{})
	_, isConservative := oracle.(catoracle.Conservative)
	assert.True(t, isConservative)
}
