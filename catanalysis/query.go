package catanalysis

import (
	"fmt"

	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/catdiag"
	"github.com/catopt/catopt/internal/maps"
)

// TypeOf returns v's classification.
func (f *Facts) TypeOf(v ssa.Value) CatType {
	return f.Universe.Tag(v)
}

// ReachingDefsIn returns the DefSet reaching v at the IN of instr.
func (f *Facts) ReachingDefsIn(instr ssa.Instruction, v ssa.Value) DefSet {
	return f.In[instr].RDA[v]
}

// ReachingDefsOut returns the DefSet reaching v at the OUT of instr.
func (f *Facts) ReachingDefsOut(instr ssa.Instruction, v ssa.Value) DefSet {
	return f.Out[instr].RDA[v]
}

// MayAliasIn reports whether x and y are in the same must-alias class at
// the IN of instr.
func (f *Facts) MayAliasIn(instr ssa.Instruction, x, y ssa.Value) bool {
	return f.In[instr].aliasClass(x).Has(y)
}

// PointsToOut returns the PointeeSet for p at the OUT of instr.
func (f *Facts) PointsToOut(instr ssa.Instruction, p ssa.Value) PointeeSet {
	return f.Out[instr].PointsTo[p]
}

// Dump writes the type universe and every instruction's RDA/Alias/PointsTo
// OUT state to sink, mirroring the original pass's (disabled)
// dumpTypeInfo/dumpRDAInfo/dumpPointToInfo debug output, except here they
// are live, toggleable functions rather than dead code (component G).
func (f *Facts) Dump(sink catdiag.Sink, fn *ssa.Function) {
	tagged := maps.Keys(f.Universe.tags)
	sink.Warnf("type universe: %d value(s) classified", len(tagged))
	for _, v := range tagged {
		sink.Warnf("type: %s = %s", v.Name(), f.Universe.tags[v])
	}
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			out, ok := f.Out[instr]
			if !ok {
				continue
			}
			sink.Warnf("out(%v):", instr)
			for v, defs := range out.RDA {
				sink.Warnf("  rda[%s] = %s", v.Name(), formatDefSet(defs))
			}
			for v, cls := range out.Alias {
				sink.Warnf("  alias[%s] = %s", v.Name(), formatValueSet(cls))
			}
			for v, pts := range out.PointsTo {
				sink.Warnf("  pointsto[%s] = %s", v.Name(), formatDefSet(pts))
			}
		}
	}
}

func formatDefSet(s DefSet) string {
	out := "{"
	first := true
	for d := range s {
		if !first {
			out += ", "
		}
		first = false
		if d == Unknown {
			out += "UNKNOWN"
		} else if v, ok := d.(ssa.Value); ok {
			out += v.Name()
		} else {
			out += fmt.Sprintf("%v", d)
		}
	}
	return out + "}"
}

func formatValueSet(s ValueSet) string {
	out := "{"
	first := true
	for v := range s {
		if !first {
			out += ", "
		}
		first = false
		out += v.Name()
	}
	return out + "}"
}
