package catanalysis

import (
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/catopt/catopt/catir"
	"github.com/catopt/catopt/internal/sets"
)

// transfer applies the effect of instr to state in place, dispatching on
// instruction kind per spec.md §4.3-§4.6, and returns state.
func (a *Analyzer) transfer(f *Facts, instr ssa.Instruction, state InstrState) InstrState {
	switch i := instr.(type) {
	case *ssa.Phi:
		a.transferPhi(f, i, state)
	case *ssa.Select:
		a.transferSelect(f, i, state)
	case *ssa.Alloc:
		a.transferAlloc(i, state)
	case *ssa.Store:
		a.transferStore(f, i, state)
	case *ssa.UnOp:
		if i.Op == token.MUL {
			a.transferLoad(f, i, state)
		}
	case ssa.CallInstruction:
		if name, ok := catir.CallName(i); ok && catir.IsCATCall(name) {
			a.transferCATCall(i, name, state)
		} else {
			a.transferOpaqueCall(f, i, state)
		}
	}
	return state
}

// transferPhi implements spec.md §4.3 for *ssa.Phi.
func (a *Analyzer) transferPhi(f *Facts, phi *ssa.Phi, state InstrState) {
	tag := f.Universe.Tag(phi)
	if tag == Other {
		return
	}

	resetAliasInfo(state, phi)
	for _, edge := range phi.Edges {
		mergeAlias(state, phi, edge)
	}

	switch tag {
	case CatData:
		rda := sets.Of[Def]()
		for i, edge := range phi.Edges {
			pred := phi.Block().Preds[i]
			predOut := terminatorOut(f, pred)
			rda.UnionWith(predOut.RDA[edge])
		}
		state.RDA[phi] = rda
	case CatPtr:
		pts := sets.Of[Pointee]()
		for i, edge := range phi.Edges {
			pred := phi.Block().Preds[i]
			predOut := terminatorOut(f, pred)
			pts.UnionWith(predOut.PointsTo[edge])
		}
		state.PointsTo[phi] = pts
	}
}

// transferSelect implements spec.md §4.3 for *ssa.Select using the send
// operands of the select statement (see classifySelect for why): both
// operands live in the current block, so unlike phi there is no
// per-predecessor edge to resolve, and the merge reads directly from the
// current IN state.
func (a *Analyzer) transferSelect(f *Facts, sel *ssa.Select, state InstrState) {
	sends := sendOperands(sel)
	if len(sends) < 2 {
		return
	}

	tag := Other
	for _, v := range sends {
		if t := f.Universe.Tag(v); t != Other {
			tag = t
			break
		}
	}
	if tag == Other {
		return
	}

	for _, v := range sends[1:] {
		mergeAlias(state, sends[0], v)
	}

	switch tag {
	case CatData:
		rda := sets.Of[Def]()
		for _, v := range sends {
			rda.UnionWith(state.RDA[v])
		}
		for _, v := range sends {
			state.RDA[v] = rda.Clone()
		}
	case CatPtr:
		pts := sets.Of[Pointee]()
		for _, v := range sends {
			pts.UnionWith(state.PointsTo[v])
		}
		for _, v := range sends {
			state.PointsTo[v] = pts.Clone()
		}
	}
}

// transferAlloc implements spec.md §4.4's alloca case.
func (a *Analyzer) transferAlloc(alloc *ssa.Alloc, state InstrState) {
	resetAliasInfo(state, alloc)
	delete(state.PointsTo, alloc)
}

// transferStore implements spec.md §4.4's store case: a strong update of
// PointsTo across p's whole must-alias class.
func (a *Analyzer) transferStore(f *Facts, st *ssa.Store, state InstrState) {
	p := st.Addr
	if f.Universe.Tag(p) != CatPtr {
		a.diag.Warnf("store: pointer operand %s not classified as CAT_PTR", p.Name())
		return
	}

	pointee := sets.Of[Pointee](st.Val)
	for member := range state.aliasClass(p) {
		state.PointsTo[member] = pointee.Clone()
	}
}

// transferLoad implements spec.md §4.4's load case, including the
// delegated refinement of step 4.
func (a *Analyzer) transferLoad(f *Facts, load *ssa.UnOp, state InstrState) {
	p, r := load.X, ssa.Value(load)

	if f.Universe.Tag(p) != CatPtr {
		a.diag.Warnf("load: pointer operand %s not classified as CAT_PTR", p.Name())
		return
	}

	resetAliasInfo(state, r)

	pointees, ok := state.PointsTo[p]
	if !ok {
		a.diag.Warnf("load: alias table entry missing for %s, treating as {UNKNOWN}", p.Name())
		pointees = sets.Of[Pointee](Unknown)
	}

	for q := range pointees {
		if q == Unknown {
			continue
		}
		if qv, ok := q.(ssa.Value); ok {
			mergeAlias(state, r, qv)
		}
	}

	switch tag := f.Universe.Tag(r); tag {
	case CatData:
		rda := sets.Of[Def]()
		for q := range pointees {
			if q == Unknown {
				rda.Add(Unknown)
				continue
			}
			if qv, ok := q.(ssa.Value); ok {
				rda.UnionWith(state.RDA[qv])
			}
		}
		state.RDA[r] = rda
	case CatPtr:
		pts := sets.Of[Pointee]()
		for q := range pointees {
			if q == Unknown {
				pts.Add(Unknown)
				continue
			}
			if qv, ok := q.(ssa.Value); ok {
				pts.UnionWith(state.PointsTo[qv])
			}
		}
		state.PointsTo[r] = pts
	default:
		if catir.PointerLike(r.Type()) {
			a.diag.Warnf("load: result %s classified OTHER despite pointer type", r.Name())
		}
	}

	for member := range state.aliasClass(p) {
		cur, ok := state.PointsTo[member]
		if !ok {
			cur = sets.Of[Pointee]()
		}
		cur.Remove(Unknown)
		cur.Add(r)
		state.PointsTo[member] = cur
	}
}

// transferCATCall implements spec.md §4.5 for a call to a CAT runtime
// entry point.
func (a *Analyzer) transferCATCall(call ssa.CallInstruction, name string, state InstrState) {
	cv, isValue := call.(*ssa.Call)
	args := call.Common().Args

	switch name {
	case "CAT_new":
		if !isValue {
			return
		}
		resetAliasInfo(state, cv)
		state.RDA[cv] = sets.Of[Def](cv)

	case "CAT_set", "CAT_add", "CAT_sub":
		if len(args) == 0 || !isValue {
			return
		}
		def := sets.Of[Def](cv)
		for member := range state.aliasClass(args[0]) {
			state.RDA[member] = def.Clone()
		}

	case "CAT_get", "CAT_destroy":
		// No change to RDA/alias/points-to.
	}
}

// transferOpaqueCall implements spec.md §4.6 for any call that is neither a
// CAT runtime call nor on the exempt list.
func (a *Analyzer) transferOpaqueCall(f *Facts, call ssa.CallInstruction, state InstrState) {
	name, _ := catir.CallName(call)
	if catir.IsExemptOpaque(name) {
		return
	}

	type operand struct {
		value ssa.Value
		isPtr bool
	}

	var operands []operand
	collected := sets.Of[Pointee]()

	for _, arg := range call.Common().Args {
		switch f.Universe.Tag(arg) {
		case CatData:
			operands = append(operands, operand{value: arg, isPtr: false})
			collected.Add(arg)
		case CatPtr:
			operands = append(operands, operand{value: arg, isPtr: true})
			collected.UnionWith(reachablePointees(f.Universe, state, arg))
		}
	}

	for _, op := range operands {
		mr := a.oracle.ModRefInfo(call, op.value, sizeOf(op.value))
		if !mr.MayModify() {
			continue
		}
		if op.isPtr {
			for member := range state.aliasClass(op.value) {
				cur, ok := state.PointsTo[member]
				if !ok {
					cur = sets.Of[Pointee]()
				}
				cur.UnionWith(collected)
				state.PointsTo[member] = cur
			}
		} else {
			unk := sets.Of[Def](Unknown)
			for member := range state.aliasClass(op.value) {
				state.RDA[member] = unk.Clone()
			}
		}
	}

	// Beyond the direct operands, a CAT_DATA value reachable only through a
	// pointer operand's points-to chain (collected above) may also be
	// modified by the call, per spec.md §4.6's "for each possibly-passed
	// CAT_DATA d that may be modified" — mirroring CatPass.cpp's separate
	// walk over findAllPossibleCATData's result.
	for d := range collected {
		if d == Unknown {
			continue
		}
		dv, ok := d.(ssa.Value)
		if !ok || f.Universe.Tag(dv) != CatData {
			continue
		}
		if !a.oracle.ModRefInfo(call, dv, sizeOf(dv)).MayModify() {
			continue
		}
		unk := sets.Of[Def](Unknown)
		for member := range state.aliasClass(dv) {
			state.RDA[member] = unk.Clone()
		}
	}

	a.classifyDynamicResult(f, call)

	res, isValue := call.(*ssa.Call)
	if !isValue {
		return
	}
	tag := f.Universe.Tag(res)
	if tag == Other {
		return
	}

	resetAliasInfo(state, res)
	for _, op := range operands {
		mergeAlias(state, res, op.value)
	}

	switch tag {
	case CatData:
		rda := sets.Of[Def]()
		for _, op := range operands {
			rda.UnionWith(state.RDA[op.value])
		}
		state.RDA[res] = rda
	case CatPtr:
		pts := sets.Of[Pointee]()
		for _, op := range operands {
			pts.UnionWith(state.PointsTo[op.value])
		}
		state.PointsTo[res] = pts
	}
}

// classifyDynamicResult implements spec.md §4.6's dynamic return-type
// classification and §4.1's final bullet: an opaque call's pointer-typed
// result is classified by pointee kind, not statically by the classifier.
// Growing the universe here mid-fixed-point is safe because the worklist
// driver's change detection compares the terminator's RDA, Alias, and
// PointsTo state (§4.7); the value's arrival in a later transfer naturally
// perturbs one of those sets and forces a re-visit.
func (a *Analyzer) classifyDynamicResult(f *Facts, call ssa.CallInstruction) {
	res, isValue := call.(*ssa.Call)
	if !isValue || !catir.PointerLike(res.Type()) {
		return
	}
	if catir.BytePointee(res.Type()) {
		f.Universe.mark(res, CatData)
	} else {
		f.Universe.mark(res, CatPtr)
	}
}

// reachablePointees transitively resolves p's points-to chain through
// CAT_PTR values, collecting every reachable CAT_DATA value and preserving
// Unknown, per spec.md §4.6.
func reachablePointees(u *Universe, state InstrState, p ssa.Value) PointeeSet {
	result := sets.Of[Pointee]()
	visited := sets.Of[ssa.Value]()

	var walk func(v ssa.Value)
	walk = func(v ssa.Value) {
		if !visited.Add(v) {
			return
		}
		for q := range state.PointsTo[v] {
			if q == Unknown {
				result.Add(Unknown)
				continue
			}
			qv, ok := q.(ssa.Value)
			if !ok {
				continue
			}
			if u.Tag(qv) == CatData {
				result.Add(qv)
			}
			if u.Tag(qv) == CatPtr {
				walk(qv)
			}
		}
	}
	walk(p)
	return result
}

var sizes types.Sizes = func() types.Sizes {
	if s := types.SizesFor("gc", "amd64"); s != nil {
		return s
	}
	return &types.StdSizes{WordSize: 8, MaxAlign: 8}
}()

// sizeOf approximates the size the alias oracle query of spec.md §6 asks
// for (`size(operand)`), using the same target-size table go/types uses to
// lay out real Go values.
func sizeOf(v ssa.Value) int64 {
	t := v.Type()
	if t == nil {
		return 0
	}
	return sizes.Sizeof(t)
}
