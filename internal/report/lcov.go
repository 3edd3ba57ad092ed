// Package report writes the aggregated coverage tables as an lcov
// tracefile.
package report

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/zjy-dev/lcov-capture/internal/aggregate"
)

// LcovWriter implements Reporter by emitting the lcov tracefile format
// (TN/SF/FN/FNDA/BRDA/DA records) to a single output file.
type LcovWriter struct {
	path string
}

// NewLcovWriter creates a writer targeting the given path.
func NewLcovWriter(path string) *LcovWriter {
	return &LcovWriter{path: path}
}

// Write emits one record per source file, sources in ascending path
// order.
func (w *LcovWriter) Write(tables *aggregate.Tables) error {
	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", w.path, err)
	}
	defer file.Close()

	out := bufio.NewWriter(file)

	names := tables.SourceNames()
	sort.Strings(names)

	for _, name := range names {
		writeSource(out, tables, name)
	}

	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	return file.Close()
}

func writeSource(out *bufio.Writer, tables *aggregate.Tables, name string) {
	fmt.Fprintf(out, "TN:\n")
	fmt.Fprintf(out, "SF:%s\n", name)

	// FN and FNDA sections, functions by raw name.
	functions := tables.Functions[name]
	fnNames := make([]string, 0, len(functions))
	for fnName := range functions {
		fnNames = append(fnNames, fnName)
	}
	sort.Strings(fnNames)

	fnh := 0
	for _, fnName := range fnNames {
		fmt.Fprintf(out, "FN:%d,%s\n", functions[fnName].Line, fnName)
	}
	for _, fnName := range fnNames {
		if functions[fnName].Hit != 0 {
			fnh++
		}
		fmt.Fprintf(out, "FNDA:%d,%s\n", functions[fnName].Hit, fnName)
	}
	fmt.Fprintf(out, "FNF:%d\n", len(fnNames))
	fmt.Fprintf(out, "FNH:%d\n", fnh)

	// BRDA section, branches in BranchId order, '-' for a branch whose
	// source never ran.
	if branches, ok := tables.Branches[name]; ok {
		ids := make([]aggregate.BranchID, 0, len(branches))
		for id := range branches {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

		brh := 0
		for _, id := range ids {
			taken := branches[id]
			if taken != 0 {
				brh++
			}
			if taken < 0 {
				fmt.Fprintf(out, "BRDA:%d,%d,%d,-\n", id.Line, id.Block, id.Branch)
			} else {
				fmt.Fprintf(out, "BRDA:%d,%d,%d,%d\n", id.Line, id.Block, id.Branch, taken)
			}
		}
		fmt.Fprintf(out, "BRF:%d\n", len(ids))
		fmt.Fprintf(out, "BRH:%d\n", brh)
	}

	// DA section, lines ascending.
	if lines, ok := tables.Lines[name]; ok {
		nums := make([]int, 0, len(lines))
		for num := range lines {
			nums = append(nums, num)
		}
		sort.Ints(nums)

		lh := 0
		for _, num := range nums {
			if lines[num] > 0 {
				lh++
			}
			fmt.Fprintf(out, "DA:%d,%d\n", num, lines[num])
		}
		fmt.Fprintf(out, "LF:%d\n", len(nums))
		fmt.Fprintf(out, "LH:%d\n", lh)
	}

	fmt.Fprintf(out, "end_of_record\n")
}
