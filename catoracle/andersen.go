package catoracle

import (
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
)

// Andersen answers mod/ref queries from a whole-program Andersen points-to
// analysis (golang.org/x/tools/go/pointer, the teacher's own point of
// comparison). go/pointer has no per-call mod/ref query, so "may modify" is
// approximated: a call may modify ptr if any function it may invoke
// contains a store whose address operand's points-to set intersects ptr's.
type Andersen struct {
	result *pointer.Result

	// storeAddrs caches, per function, the points-to queries of every
	// store's address operand found in that function's body. This is a
	// property of the function alone (which addresses it stores through),
	// so it is safe to cache; the may-modify verdict itself depends on the
	// queried pointer too and is never cached.
	storeAddrs map[*ssa.Function][]pointer.Pointer
}

// NewAndersen runs a whole-program Andersen analysis per config and wraps
// the result as an Oracle. Every pointer that will be queried through
// ModRefInfo must already be present in config.Queries or
// config.IndirectQueries before Analyze runs, as golang.org/x/tools/go/pointer
// requires.
func NewAndersen(config *pointer.Config) (*Andersen, error) {
	result, err := pointer.Analyze(config)
	if err != nil {
		return nil, err
	}
	return &Andersen{result: result, storeAddrs: make(map[*ssa.Function][]pointer.Pointer)}, nil
}

func (a *Andersen) ModRefInfo(call ssa.CallInstruction, ptr ssa.Value, _ int64) ModRef {
	ptrQuery, ok := a.result.Queries[ptr]
	if !ok {
		if iq, ok2 := a.result.IndirectQueries[ptr]; ok2 {
			ptrQuery, ok = iq, true
		}
	}
	if !ok {
		// ptr was never registered as a query: we have no points-to
		// information for it, so conservatively report Mod.
		return Mod
	}

	callees := calleesOf(a.result, call)
	if len(callees) == 0 {
		return Mod
	}

	for _, callee := range callees {
		if a.calleeMayStore(callee, ptrQuery) {
			return Mod
		}
	}
	return Ref
}

func (a *Andersen) calleeMayStore(fn *ssa.Function, ptrQuery pointer.Pointer) bool {
	addrs, ok := a.storeAddrs[fn]
	if !ok {
		addrs = a.collectStoreAddrs(fn)
		a.storeAddrs[fn] = addrs
	}

	for _, addrQuery := range addrs {
		if addrQuery.PointsTo().Intersects(ptrQuery.PointsTo()) {
			return true
		}
	}
	return false
}

// collectStoreAddrs scans fn once for every store instruction and records
// the points-to query of its address operand.
func (a *Andersen) collectStoreAddrs(fn *ssa.Function) []pointer.Pointer {
	var addrs []pointer.Pointer
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			st, ok := instr.(*ssa.Store)
			if !ok {
				continue
			}
			if addrQuery, ok := a.result.Queries[st.Addr]; ok {
				addrs = append(addrs, addrQuery)
			} else if addrQuery, ok := a.result.IndirectQueries[st.Addr]; ok {
				addrs = append(addrs, addrQuery)
			}
		}
	}
	return addrs
}

func calleesOf(result *pointer.Result, call ssa.CallInstruction) []*ssa.Function {
	node := result.CallGraph.Nodes[call.Parent()]
	if node == nil {
		return nil
	}
	var out []*ssa.Function
	for _, edge := range node.Out {
		if edge.Site == call {
			out = append(out, edge.Callee.Func)
		}
	}
	return out
}
