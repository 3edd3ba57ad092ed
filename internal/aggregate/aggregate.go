// Package aggregate merges the per-pair coverage results into the
// process-wide tables the report is written from.
package aggregate

import (
	"github.com/zjy-dev/lcov-capture/internal/demangle"
	"github.com/zjy-dev/lcov-capture/internal/gcov"
)

// UnknownTaken marks a branch that was seen but whose source block never
// executed.
const UnknownTaken int64 = -1

// callReturnBlock keeps call-return blocks distinct from real branch
// blocks in BRDA keys.
const callReturnBlock = 9999

// FunctionInfo is one aggregated function, keyed by its raw symbol name.
type FunctionInfo struct {
	// First line of the function.
	Line int
	// Cumulative entry-block count across every pair processed.
	Hit int64
	// Cumulative count of returns (exit block minus calls that never
	// returned). Informational.
	Returns int64
	// Demangled name. Informational; the table key stays raw.
	Display string
}

// BranchID identifies one branch: line number, running block ordinal on
// that line, and the branch's emission index.
type BranchID struct {
	Line   int
	Block  int
	Branch int
}

// Less orders BranchIDs lexicographically.
func (b BranchID) Less(o BranchID) bool {
	if b.Line != o.Line {
		return b.Line < o.Line
	}
	if b.Block != o.Block {
		return b.Block < o.Block
	}
	return b.Branch < o.Branch
}

// Tables holds the three process-wide aggregates, each keyed by
// canonical source path. They are mutated only from the sequential
// pipeline, so no locking.
type Tables struct {
	Functions map[string]map[string]*FunctionInfo
	Lines     map[string]map[int]int64
	Branches  map[string]map[BranchID]int64
}

// New returns empty tables.
func New() *Tables {
	return &Tables{
		Functions: make(map[string]map[string]*FunctionInfo),
		Lines:     make(map[string]map[int]int64),
		Branches:  make(map[string]map[BranchID]int64),
	}
}

// SourceNames returns every source path seen, unsorted.
func (t *Tables) SourceNames() []string {
	names := make([]string, 0, len(t.Functions))
	for name := range t.Functions {
		names = append(names, name)
	}
	return names
}

// AddSource folds one finished source into the tables. Lines are walked
// in ascending order; functions contribute their hit count at their
// first line, and every block on a line contributes its qualifying
// branches.
func (t *Tables) AddSource(src *gcov.SourceInfo) {
	srcFunctions := t.Functions[src.Name]
	if srcFunctions == nil {
		srcFunctions = make(map[string]*FunctionInfo)
		t.Functions[src.Name] = srcFunctions
	}
	srcLines := t.Lines[src.Name]
	if srcLines == nil {
		srcLines = make(map[int]int64)
		t.Lines[src.Name] = srcLines
	}
	srcBranches := t.Branches[src.Name]
	if srcBranches == nil {
		srcBranches = make(map[BranchID]int64)
		t.Branches[src.Name] = srcBranches
	}

	fn := src.Functions

	for lineNum := 1; lineNum < src.NumLines; lineNum++ {
		line := &src.Lines[lineNum]

		for ; fn != nil && fn.Line == lineNum; fn = fn.LineNext {
			if len(fn.Blocks) == 0 {
				continue
			}
			exit := fn.Blocks[len(fn.Blocks)-1]
			returns := exit.Count
			for arc := exit.Pred; arc != nil; arc = arc.PredNext {
				if arc.Fake {
					// A call that never returned.
					returns -= arc.Count
				}
			}

			info := srcFunctions[fn.Name]
			if info == nil {
				info = &FunctionInfo{Display: demangle.Demangle(fn.Name)}
				srcFunctions[fn.Name] = info
			}
			info.Line = fn.Line
			info.Hit += fn.Blocks[0].Count
			info.Returns += returns
		}

		if line.Exists {
			srcLines[lineNum] += line.Count
		}

		ix, jx := 0, 0
		for block := line.Blocks; block != nil; block = block.Chain {
			blockID := callReturnBlock
			if !block.IsCallReturn {
				blockID = ix
				ix++
			}

			for arc := block.Succ; arc != nil; arc = arc.SuccNext {
				branch, taken, emitted := branchEmission(jx, arc)
				if emitted {
					jx++
				}
				if branch < 0 {
					continue
				}

				id := BranchID{Line: lineNum, Block: blockID, Branch: branch}
				current, seen := srcBranches[id]
				if !seen {
					current = UnknownTaken
				}
				if taken >= 0 {
					if current < 0 {
						current = taken
					} else {
						current += taken
					}
				}
				srcBranches[id] = current
			}
		}
	}
}

// branchEmission decides whether an arc gets a branch record. Call
// arcs and unconditional arcs are skipped, but call arcs still advance
// the emission index.
func branchEmission(ix int, arc *gcov.Arc) (branch int, taken int64, emitted bool) {
	branch, taken = -1, UnknownTaken
	switch {
	case arc.IsCallNonReturn:
		emitted = true
	case !arc.IsUnconditional:
		branch = ix
		if arc.Src.Count != 0 {
			taken = arc.Count
		}
		emitted = true
	}
	return branch, taken, emitted
}
