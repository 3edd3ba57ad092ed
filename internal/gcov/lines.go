package gcov

import "github.com/zjy-dev/lcov-capture/internal/logger"

// AllocateLines sizes every source's line array once all note records
// have been read and the high-water marks are final.
func (g *Graph) AllocateLines() {
	for src := g.Sources; src != nil; src = src.Next {
		src.Lines = make([]LineInfo, src.NumLines)
	}
}

// AddLineCounts scans each block's line encoding, adds the block count
// to every line the block mentions, and chains the block (or its exit
// arcs, in branches mode) onto the last line it touches. This consumes
// the line encoding: afterwards the block carries its cycle workspace.
func (g *Graph) AddLineCounts(fn *Function) {
	// Propagated from one block to the next, so a block without its own
	// encoding lands on the previous block's line.
	var line *LineInfo

	for ix, block := range fn.Blocks {
		if block.Count != 0 && ix != 0 && ix+1 != len(fn.Blocks) {
			fn.BlocksExecuted++
		}

		var src *SourceInfo
		enc := block.LineEnc
		for jx := 0; jx < len(enc); jx++ {
			if enc[jx] == 0 {
				jx++
				srcN := enc[jx]
				for src = g.Sources; src.Index != srcN; src = src.Next {
				}
			} else {
				line = &src.Lines[enc[jx]]
				line.Exists = true
				line.Count += block.Count
			}
		}

		block.LineEnc = nil
		block.CycleArc = nil
		block.CycleIdent = ^uint32(0)

		if ix == 0 || ix+1 == len(fn.Blocks) {
			// Entry or exit block.
		} else if g.opts.AllBlocks {
			blockLine := line
			if blockLine == nil {
				blockLine = &fn.Src.Lines[fn.Line]
			}
			block.Chain = blockLine.Blocks
			blockLine.Blocks = block
		} else if g.opts.Branches && line != nil {
			for arc := block.Succ; arc != nil; arc = arc.SuccNext {
				arc.LineNext = line.Branches
				line.Branches = arc
			}
		}
	}

	if line == nil {
		logger.Warnf("%s: no lines for '%s'", g.NotePath, fn.Name)
	}
}

// addBranchCounts folds one arc into the coverage totals: fake
// call-non-return arcs count as calls, conditional arcs as branches.
func addBranchCounts(cov *Coverage, arc *Arc) {
	if arc.IsCallNonReturn {
		cov.Calls++
		if arc.Src.Count != 0 {
			cov.CallsExecuted++
		}
	} else if !arc.IsUnconditional {
		cov.Branches++
		if arc.Src.Count != 0 {
			cov.BranchesExecuted++
		}
		if arc.Count != 0 {
			cov.BranchesTaken++
		}
	}
}

// AccumulateLineCounts finishes a source once every function has
// contributed: the per-source function list flips to ascending line
// order and each line's count is computed from its block sub-graph.
func (g *Graph) AccumulateLineCounts(src *SourceInfo) {
	// Reverse the function order.
	var fnPrev *Function
	for fn := src.Functions; fn != nil; {
		next := fn.LineNext
		fn.LineNext = fnPrev
		fnPrev, fn = fn, next
	}
	src.Functions = fnPrev

	for ix := range src.Lines {
		line := &src.Lines[ix]

		if !g.opts.AllBlocks {
			// Total and reverse the branch information.
			var arcPrev *Arc
			for arc := line.Branches; arc != nil; {
				next := arc.LineNext
				arc.LineNext = arcPrev
				addBranchCounts(&src.Coverage, arc)
				arcPrev, arc = arc, next
			}
			line.Branches = arcPrev
		} else if line.Blocks != nil {
			// The line count the user expects is the number of times
			// the line ran, and summing block counts overcounts lines
			// spanning several blocks. Sum the entry counts into the
			// line's block graph instead, then add the transition
			// counts of the elementary cycles wholly inside it.
			ident := uint32(ix)
			var count int64

			var blockPrev *Block
			for block := line.Blocks; block != nil; {
				next := block.Chain
				block.Chain = blockPrev
				block.CycleIdent = ident
				blockPrev, block = block, next
			}
			line.Blocks = blockPrev

			for block := line.Blocks; block != nil; block = block.Chain {
				for arc := block.Pred; arc != nil; arc = arc.PredNext {
					if arc.Src.CycleIdent != ident {
						count += arc.Count
					}
					if g.opts.Branches {
						addBranchCounts(&src.Coverage, arc)
					}
				}
				for arc := block.Succ; arc != nil; arc = arc.SuccNext {
					arc.CSCount = arc.Count
				}
			}

			count += g.lineCycleCounts(line, ident)
			line.Count = count
		}

		if line.Exists {
			src.Coverage.Lines++
			if line.Count != 0 {
				src.Coverage.LinesExecuted++
			}
		}
	}
}

// lineCycleCounts enumerates the elementary circuits of the line's block
// sub-graph with Tiernan's algorithm (CACM, Dec 1970). The path is held
// by giving each block a back-pointer to the arc that entered it; the
// candidate ordering comes from the successor chains. Each circuit found
// contributes its minimum working count, which is then drained from
// every arc on the circuit, and the minimum arc is retired.
func (g *Graph) lineCycleCounts(line *LineInfo, ident uint32) int64 {
	var count int64

	for block := line.Blocks; block != nil; block = block.Chain {
		head := block
		arc := head.Succ

		for {
			if arc != nil {
				dst := arc.Dst
				if arc.Cycle || dst.CycleIdent != ident || dst.CycleArc != nil {
					// Arc already used, not in this line's graph, or
					// destination already on the path.
					arc = arc.SuccNext
					continue
				}

				if dst == block {
					// Found a closing arc: a circuit through the root.
					cycleCount := arc.CSCount
					cycleArc := arc

					for d := head; d.CycleArc != nil; d = d.CycleArc.Src {
						if cycleCount > d.CycleArc.CSCount {
							cycleCount = d.CycleArc.CSCount
							cycleArc = d.CycleArc
						}
					}

					count += cycleCount
					cycleArc.Cycle = true

					arc.CSCount -= cycleCount
					for d := head; d.CycleArc != nil; d = d.CycleArc.Src {
						d.CycleArc.CSCount -= cycleCount
					}

					// Unwind to the retired arc's source.
					for head != cycleArc.Src {
						entered := head.CycleArc
						head.CycleArc = nil
						head = entered.Src
					}

					arc = arc.SuccNext
					continue
				}

				// Extend the path.
				dst.CycleArc = arc
				head = dst
				arc = head.Succ
				continue
			}

			// No successor advances the path; drop the last vertex.
			if entered := head.CycleArc; entered != nil {
				head.CycleArc = nil
				head = entered.Src
				arc = entered.SuccNext
				continue
			}

			// Backtracked to the root: this block is done.
			block.CycleIdent = ^uint32(0)
			break
		}
	}

	return count
}
