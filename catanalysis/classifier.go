package catanalysis

import (
	"go/token"

	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/catir"
)

// CatType tags a value as one of the three classes spec.md §3 defines.
type CatType int

const (
	Other CatType = iota
	CatData
	CatPtr
)

func (t CatType) String() string {
	switch t {
	case CatData:
		return "CAT_DATA"
	case CatPtr:
		return "CAT_PTR"
	default:
		return "OTHER"
	}
}

// Universe holds the result of the type classifier (component B): a
// monotonically growing tag assignment over every value touched while
// analyzing one function. Once a value is tagged non-Other it never
// reverts or switches class.
type Universe struct {
	tags map[ssa.Value]CatType
}

func newUniverse() *Universe {
	return &Universe{tags: make(map[ssa.Value]CatType)}
}

// Tag returns v's current classification, Other if v has not been tagged
// or v is nil.
func (u *Universe) Tag(v ssa.Value) CatType {
	if v == nil {
		return Other
	}
	return u.tags[v]
}

// mark assigns t to v if v is untagged, reporting whether the universe
// grew as a result.
func (u *Universe) mark(v ssa.Value, t CatType) bool {
	if v == nil || t == Other {
		return false
	}
	if u.tags[v] != Other {
		return false
	}
	u.tags[v] = t
	return true
}

// classify runs the static rules of spec.md §4.1 to a fixed point over fn.
// Dynamic classification of opaque-call results by pointee kind is handled
// later by the transfer functions (component D), per §4.1's final bullet.
func classify(fn *ssa.Function) *Universe {
	u := newUniverse()
	for {
		grew := false
		for _, block := range fn.Blocks {
			for _, instr := range block.Instrs {
				if classifyInstr(u, instr) {
					grew = true
				}
			}
		}
		if !grew {
			break
		}
	}
	return u
}

func classifyInstr(u *Universe, instr ssa.Instruction) bool {
	switch i := instr.(type) {
	case *ssa.Alloc:
		return u.mark(i, CatPtr)

	case *ssa.Phi:
		return classifyPhi(u, i)

	case *ssa.Select:
		return classifySelect(u, i)

	case *ssa.Store:
		if u.Tag(i.Val) != Other {
			return u.mark(i.Addr, CatPtr)
		}
		return false

	case *ssa.UnOp:
		if i.Op != token.MUL {
			return false
		}
		if u.Tag(i) != Other {
			return u.mark(i.X, CatPtr)
		}
		return false

	case ssa.CallInstruction:
		return classifyCall(u, i)
	}
	return false
}

// classifyPhi implements spec.md §4.1's phi rule: if the result is already
// tagged, propagate its tag to every incoming value; otherwise, if any
// incoming value is tagged, the result takes that tag.
func classifyPhi(u *Universe, phi *ssa.Phi) bool {
	if result := u.Tag(phi); result != Other {
		grew := false
		for _, edge := range phi.Edges {
			if u.mark(edge, result) {
				grew = true
			}
		}
		return grew
	}

	for _, edge := range phi.Edges {
		if t := u.Tag(edge); t != Other {
			return u.mark(phi, t)
		}
	}
	return false
}

// classifySelect applies the phi policy to the nearest structural analog
// go/ssa offers for a single-instruction ternary: the send operands of a
// channel select statement. Go has no native ternary operator, so
// *ssa.Select (which models `select { ... }`, not LLVM's `select`
// instruction) is the closest multi-operand-merge instruction available;
// its own value is a tuple and is never itself classified here. This path
// is not expected to fire for CAT fixtures, which have no channels, but is
// implemented for structural parity with §4.1/§4.3.
func classifySelect(u *Universe, sel *ssa.Select) bool {
	sends := sendOperands(sel)
	if len(sends) < 2 {
		return false
	}

	result := Other
	for _, v := range sends {
		if t := u.Tag(v); t != Other {
			result = t
			break
		}
	}
	if result == Other {
		return false
	}

	grew := false
	for _, v := range sends {
		if u.mark(v, result) {
			grew = true
		}
	}
	return grew
}

func sendOperands(sel *ssa.Select) []ssa.Value {
	var sends []ssa.Value
	for _, state := range sel.States {
		if state.Send != nil {
			sends = append(sends, state.Send)
		}
	}
	return sends
}

func classifyCall(u *Universe, call ssa.CallInstruction) bool {
	name, ok := catir.CallName(call)
	if !ok || !catir.IsCATCall(name) {
		return false
	}

	args := call.Common().Args
	grew := false

	switch name {
	case "CAT_new":
		if c, ok := call.(*ssa.Call); ok {
			if u.mark(c, CatData) {
				grew = true
			}
		}
	case "CAT_get", "CAT_set", "CAT_destroy":
		if len(args) > 0 && u.mark(args[0], CatData) {
			grew = true
		}
	case "CAT_add", "CAT_sub":
		for i := 0; i < 3 && i < len(args); i++ {
			if u.mark(args[i], CatData) {
				grew = true
			}
		}
	}
	return grew
}
