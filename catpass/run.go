package catpass

import (
	"fmt"

	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/catopt/catopt/catanalysis"
	"github.com/catopt/catopt/catdiag"
	"github.com/catopt/catopt/catir"
	"github.com/catopt/catopt/catoracle"
	"github.com/catopt/catopt/catrewrite"
)

// Result summarizes one function's run.
type Result struct {
	Fn       *ssa.Function
	Rounds   int
	Changed  bool
	Pending  []catir.PendingInsert
	Facts    *catanalysis.Facts
}

// BuildOracle resolves cfg.Oracle against a whole-program pointer analysis
// of mains, falling back to Conservative on any setup failure — an
// unresolvable oracle should degrade the pass, not abort it.
func BuildOracle(cfg Config, mains []*ssa.Package, diag catdiag.Sink) catoracle.Oracle {
	if cfg.Oracle != "andersen" {
		return catoracle.Conservative{}
	}

	queries := make(map[ssa.Value]struct{})
	if len(mains) > 0 {
		for fn := range ssautil.AllFunctions(mains[0].Prog) {
			for _, param := range fn.Params {
				if catir.PointerLike(param.Type()) {
					queries[param] = struct{}{}
				}
			}
			for _, block := range fn.Blocks {
				for _, instr := range block.Instrs {
					if v, ok := instr.(ssa.Value); ok && catir.PointerLike(v.Type()) {
						queries[v] = struct{}{}
					}
				}
			}
		}
	}

	oracle, err := catoracle.NewAndersen(&pointer.Config{Mains: mains, Queries: queries, BuildCallGraph: true})
	if err != nil {
		diag.Warnf("andersen oracle setup failed, falling back to conservative: %v", err)
		return catoracle.Conservative{}
	}
	return oracle
}

// RunToFixpoint repeatedly analyzes fn and applies whatever edits the
// rewriter plans, following spec §4.8's closing rule: "the pass manager is
// expected to re-run the analysis if [Apply] returns true". It stops when a
// round produces no deletions, cfg.MaxRounds is reached, or a round's
// insertions cannot be observed by the next round's analysis (see below),
// whichever comes first.
//
// Rounds converge for the propagation pass (deletions and use-replacements
// are genuinely reflected in fn's instruction stream via catir.SSABuilder),
// the same way the original pass's constantProp reruns cleanly. Rounds do
// NOT converge for insertions the fold/simplify pass plans: golang.org/x/tools/go/ssa
// exposes no public constructor for a fully linked *ssa.Call, so
// SSABuilder.InsertCallBefore cannot splice a real instruction into
// block.Instrs, only record it in Pending for a host compiler to replay.
// Every fold/simplify edit also deletes the call it replaces, so a further
// round would analyze a body that has lost that call without gaining its
// replacement. RunToFixpoint therefore stops after any round that applied
// an insertion, exactly like running the original two-pass function body
// once without its enclosing pass-manager loop, and reports the unapplied
// insertions in Result.Pending.
func RunToFixpoint(cfg Config, fn *ssa.Function, oracle catoracle.Oracle, diag catdiag.Sink) Result {
	if oracle == nil {
		oracle = catoracle.Conservative{}
	}
	if diag == nil {
		diag = catdiag.Stderr{}
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultConfig().MaxRounds
	}

	analyzer := catanalysis.New(oracle, diag)
	builder := catir.NewSSABuilder(fn)

	var facts *catanalysis.Facts
	changedEver := false

	for round := 1; round <= maxRounds; round++ {
		facts = analyzer.Run(fn)
		if cfg.Verbose {
			diag.Warnf("round %d: analyzing %s", round, fn.Name())
			facts.Dump(diag, fn)
		}

		edits := catrewrite.Plan(fn, facts)
		if len(edits) == 0 {
			return Result{Fn: fn, Rounds: round, Changed: changedEver, Pending: builder.Pending, Facts: facts}
		}

		changed := catrewrite.Apply(edits, builder)
		changedEver = changedEver || changed

		inserted := false
		for _, edit := range edits {
			if len(edit.Insertions) > 0 {
				inserted = true
			}
		}

		if !changed || inserted {
			// Either nothing observable changed, so re-analyzing would just
			// replan the same edits, or this round recorded insertions the
			// builder could not link in, so the next round's analysis would
			// miss them: stop here rather than re-analyze.
			return Result{Fn: fn, Rounds: round, Changed: changedEver, Pending: builder.Pending, Facts: facts}
		}
	}

	return Result{Fn: fn, Rounds: maxRounds, Changed: changedEver, Pending: builder.Pending, Facts: facts}
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d round(s), changed=%v, %d pending insertion(s)",
		r.Fn.Name(), r.Rounds, r.Changed, len(r.Pending))
}
