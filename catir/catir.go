// Package catir is the read-only IR view (component A) that the dataflow
// analyzer and rewriter are built against. It wraps golang.org/x/tools/go/ssa
// with the small set of queries the CAT analysis needs: call-target name
// resolution, CFG edges, and the handful of instruction-kind discriminations
// spec.md §6 asks for. Constructing or parsing the IR in the first place is
// the host compiler's job, not this package's.
package catir

import (
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// CallName returns the statically known name of the function called by c,
// and whether one could be determined. Calls through an interface method
// (invoke mode) or through a value with no static callee (e.g. a function
// passed as a parameter) report ok=false and must be treated as opaque by
// the analysis.
func CallName(c ssa.CallInstruction) (name string, ok bool) {
	common := c.Common()
	if common.IsInvoke() {
		return "", false
	}
	if sc := common.StaticCallee(); sc != nil {
		return sc.Name(), true
	}
	if b, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin {
		return b.Name(), true
	}
	return "", false
}

// catNames are the CAT runtime entry points, matched by name only per
// spec.md §6.3.
var catNames = map[string]bool{
	"CAT_new":     true,
	"CAT_get":     true,
	"CAT_set":     true,
	"CAT_add":     true,
	"CAT_sub":     true,
	"CAT_destroy": true,
}

// IsCATCall reports whether name is one of the CAT runtime entry points.
func IsCATCall(name string) bool { return catNames[name] }

// IsExemptOpaque reports whether a call to name has no opaque effect on CAT
// state even though it isn't a CAT runtime call, per spec.md §4.6.
func IsExemptOpaque(name string) bool {
	return name == "CAT_destroy" || name == "printf" || strings.HasPrefix(name, "llvm.lifetime")
}

// IsLoad reports whether i is a pointer dereference (the SSA lowering of a
// C/LLVM load instruction), returning the pointer operand.
func IsLoad(i ssa.Instruction) (ptr ssa.Value, ok bool) {
	u, isUnOp := i.(*ssa.UnOp)
	if !isUnOp || u.Op != token.MUL {
		return nil, false
	}
	return u.X, true
}

// Preds returns the CFG predecessors of b.
func Preds(b *ssa.BasicBlock) []*ssa.BasicBlock { return b.Preds }

// Succs returns the CFG successors of b.
func Succs(b *ssa.BasicBlock) []*ssa.BasicBlock { return b.Succs }

// PointerLike reports whether t is some level of pointer. Both CAT_DATA
// (a box handle) and CAT_PTR (a memory cell holding one) are pointer types
// at the SSA level, mirroring the fact that both are LLVM pointer types in
// the original CAT pass.
func PointerLike(t types.Type) bool {
	_, ok := t.Underlying().(*types.Pointer)
	return ok
}

// BytePointee reports whether t points to a byte-sized integer, the
// dynamic-classification heuristic of spec.md §4.1/§4.6 ("char* means
// string/data") transposed to go/types: a pointer to int8/uint8 classifies
// as CAT_DATA, anything else pointer-typed classifies as CAT_PTR.
func BytePointee(t types.Type) bool {
	ptr, ok := t.Underlying().(*types.Pointer)
	if !ok {
		return false
	}
	basic, ok := ptr.Elem().Underlying().(*types.Basic)
	if !ok {
		return false
	}
	switch basic.Kind() {
	case types.Int8, types.Uint8:
		return true
	default:
		return false
	}
}
