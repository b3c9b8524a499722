// Package catoracle implements the alias oracle (component H): a single
// query answering whether an opaque call may modify a pointer, consumed by
// catanalysis's opaque-call transfer function. The core analysis never
// constructs one of these itself; it is handed an Oracle, matching spec.md
// §1's framing of alias analysis as an external collaborator.
package catoracle

import "golang.org/x/tools/go/ssa"

// ModRef classifies how a call may interact with a pointer.
type ModRef int

const (
	NoModRef ModRef = iota
	Ref
	Mod
	ModRef_
	MustMod
)

func (m ModRef) String() string {
	switch m {
	case Ref:
		return "Ref"
	case Mod:
		return "Mod"
	case ModRef_:
		return "ModRef"
	case MustMod:
		return "MustMod"
	default:
		return "NoModRef"
	}
}

// MayModify reports whether m is one of the "may modify" responses
// (Mod, ModRef, MustMod) per spec.md §6.
func (m ModRef) MayModify() bool {
	switch m {
	case Mod, ModRef_, MustMod:
		return true
	default:
		return false
	}
}

// Oracle answers whether call may modify the memory reachable through ptr,
// a value of the given size.
type Oracle interface {
	ModRefInfo(call ssa.CallInstruction, ptr ssa.Value, size int64) ModRef
}

// Conservative is the zero-dependency fallback oracle: every pointer passed
// to a non-exempt opaque call is assumed possibly modified. This is the
// oracle a CAT pass with no real alias analysis wired in falls back to.
type Conservative struct{}

func (Conservative) ModRefInfo(ssa.CallInstruction, ssa.Value, int64) ModRef {
	return Mod
}
