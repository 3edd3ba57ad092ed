package gcov

import "github.com/zjy-dev/lcov-capture/internal/logger"

// A pending counter is saturated when the block's count cannot be
// inferred from that side at all (entry predecessors, exit successors).
const saturatedArcs = int64(^uint32(0))

// SolveFlowGraph propagates the measured off-tree arc counts to every
// arc and block of the function via flow conservation: each block's
// count equals the sum of its incoming arcs and the sum of its outgoing
// arcs, fake arcs included.
func (g *Graph) SolveFlowGraph(fn *Function) {
	var validBlocks, invalidBlocks *Block

	if len(fn.Blocks) < 2 {
		logger.Warnf("%s: '%s' lacks entry and/or exit blocks", g.NotePath, fn.Name)
		return
	} else {
		entry := fn.Blocks[0]
		if entry.NumPred != 0 {
			logger.Warnf("%s: '%s' has arcs to entry block", g.NotePath, fn.Name)
		} else {
			// The entry block count cannot be deduced from its empty
			// predecessor set.
			entry.NumPred = saturatedArcs
		}

		exit := fn.Blocks[len(fn.Blocks)-1]
		if exit.NumSucc != 0 {
			logger.Warnf("%s: '%s' has arcs from exit block", g.NotePath, fn.Name)
		} else {
			exit.NumSucc = saturatedArcs
		}
	}

	// Seed the measured counts. This must consume the counts buffer in
	// the same order the instrumentation wrote it: block order, then
	// successor order within the block.
	countIx := 0
	for _, blk := range fn.Blocks {
		var prevDst *Block
		outOfOrder := false
		nonFakeSucc := 0

		for arc := blk.Succ; arc != nil; arc = arc.SuccNext {
			if !arc.Fake {
				nonFakeSucc++
			}
			if !arc.OnTree {
				if fn.Counts != nil {
					arc.Count = fn.Counts[countIx]
					countIx++
				}
				arc.CountValid = true
				blk.NumSucc--
				arc.Dst.NumPred--
			}
			if prevDst != nil && prevDst.Index > arc.Dst.Index {
				outOfOrder = true
			}
			prevDst = arc.Dst
		}

		if nonFakeSucc == 1 {
			// A single non-fake exit is an unconditional branch.
			for arc := blk.Succ; arc != nil; arc = arc.SuccNext {
				if arc.Fake {
					continue
				}
				arc.IsUnconditional = true
				// A call-instrumenting block may be artificial. It is
				// not when it has a non-fallthrough exit or the
				// destination has other entries; otherwise the
				// destination is the call's return site.
				if blk.IsCallSite && arc.FallThrough && arc.Dst.Pred == arc && arc.PredNext == nil {
					arc.Dst.IsCallReturn = true
				}
			}
		}

		// The instrumentation normally emits arcs in ascending
		// destination order, occasionally with one or two swapped.
		// Later insertions are order-sensitive, so restore it.
		if outOfOrder {
			blk.Succ = sortSuccs(blk.Succ)
		}

		blk.invalidChain = true
		blk.Chain = invalidBlocks
		invalidBlocks = blk
	}

	for invalidBlocks != nil || validBlocks != nil {
		for invalidBlocks != nil {
			blk := invalidBlocks
			invalidBlocks = blk.Chain
			blk.invalidChain = false

			var total int64
			if blk.NumSucc == 0 {
				for arc := blk.Succ; arc != nil; arc = arc.SuccNext {
					total += arc.Count
				}
			} else if blk.NumPred == 0 {
				for arc := blk.Pred; arc != nil; arc = arc.PredNext {
					total += arc.Count
				}
			} else {
				continue
			}

			blk.Count = total
			blk.CountValid = true
			blk.Chain = validBlocks
			blk.validChain = true
			validBlocks = blk
		}

		for validBlocks != nil {
			blk := validBlocks
			validBlocks = blk.Chain
			blk.validChain = false

			if blk.NumSucc == 1 {
				total := blk.Count
				var invArc *Arc
				for arc := blk.Succ; arc != nil; arc = arc.SuccNext {
					total -= arc.Count
					if !arc.CountValid {
						invArc = arc
					}
				}
				dst := invArc.Dst
				invArc.CountValid = true
				invArc.Count = total
				blk.NumSucc--
				dst.NumPred--
				if dst.CountValid {
					if dst.NumPred == 1 && !dst.validChain {
						dst.Chain = validBlocks
						dst.validChain = true
						validBlocks = dst
					}
				} else if dst.NumPred == 0 && !dst.invalidChain {
					dst.Chain = invalidBlocks
					dst.invalidChain = true
					invalidBlocks = dst
				}
			}

			if blk.NumPred == 1 {
				total := blk.Count
				var invArc *Arc
				for arc := blk.Pred; arc != nil; arc = arc.PredNext {
					total -= arc.Count
					if !arc.CountValid {
						invArc = arc
					}
				}
				src := invArc.Src
				invArc.CountValid = true
				invArc.Count = total
				blk.NumPred--
				src.NumSucc--
				if src.CountValid {
					if src.NumSucc == 1 && !src.validChain {
						src.Chain = validBlocks
						src.validChain = true
						validBlocks = src
					}
				} else if src.NumSucc == 0 && !src.invalidChain {
					src.Chain = invalidBlocks
					src.invalidChain = true
					invalidBlocks = src
				}
			}
		}
	}

	// A correctly solved graph leaves every block with a valid count.
	for _, blk := range fn.Blocks {
		if !blk.CountValid {
			logger.Warnf("%s: graph is unsolvable for '%s'", g.NotePath, fn.Name)
			break
		}
	}
}

// sortSuccs bubble-sorts a successor chain into ascending destination
// order.
func sortSuccs(start *Arc) *Arc {
	changes := true
	for changes {
		changes = false
		var prev *Arc
		arc := start
		for arc != nil {
			next := arc.SuccNext
			if next == nil {
				break
			}
			if arc.Dst.Index > next.Dst.Index {
				changes = true
				if prev != nil {
					prev.SuccNext = next
				} else {
					start = next
				}
				arc.SuccNext = next.SuccNext
				next.SuccNext = arc
				prev = next
			} else {
				prev = arc
				arc = next
			}
		}
	}
	return start
}
