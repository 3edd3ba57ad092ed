// Package capture drives the per-pair coverage pipeline: note file to
// graph, data file to counts, solve, attribute, aggregate.
package capture

import (
	"github.com/zjy-dev/lcov-capture/internal/aggregate"
	"github.com/zjy-dev/lcov-capture/internal/gcov"
	"github.com/zjy-dev/lcov-capture/internal/logger"
	"github.com/zjy-dev/lcov-capture/internal/scan"
)

// Capture accumulates coverage over successive data/note pairs. Pairs
// are processed strictly one at a time; every pair gets fresh graph
// state so node identity never aliases across pairs.
type Capture struct {
	opts   gcov.Options
	tables *aggregate.Tables
}

// New creates an empty capture session.
func New(opts gcov.Options) *Capture {
	return &Capture{opts: opts, tables: aggregate.New()}
}

// Tables exposes the process-wide aggregates for reporting.
func (c *Capture) Tables() *aggregate.Tables {
	return c.tables
}

// Run scans root for data files and processes each pair. Per-pair
// failures are reported and skipped; only the scan itself can fail.
func (c *Capture) Run(root string) error {
	logger.Infof("Scanning %s for %s files ...", root, scan.DataSuffix)
	dataFiles, err := scan.DataFiles(root)
	if err != nil {
		return err
	}
	logger.Infof("Found %d data files in %s", len(dataFiles), root)

	for _, dataPath := range dataFiles {
		logger.Infof("Processing %s", dataPath)
		c.ProcessPair(dataPath)
	}
	return nil
}

// ProcessPair runs one data file and its note file through the whole
// pipeline. Failures are warnings; the pair is skipped and the tables
// keep whatever earlier pairs contributed.
func (c *Capture) ProcessPair(dataPath string) {
	notePath := scan.NoteFor(dataPath)

	g, err := gcov.ReadNoteFile(notePath, c.opts)
	if err != nil {
		logger.Warnf("%v", err)
		return
	}
	if g.Functions == nil {
		logger.Warnf("%s: no functions found", notePath)
		return
	}

	if err := g.ReadDataFile(dataPath); err != nil {
		logger.Warnf("%v", err)
		return
	}

	for fn := g.Functions; fn != nil; fn = fn.Next {
		g.SolveFlowGraph(fn)
	}

	g.AllocateLines()

	for fn := g.Functions; fn != nil; fn = fn.Next {
		g.AddLineCounts(fn)
	}

	for src := g.Sources; src != nil; src = src.Next {
		g.AccumulateLineCounts(src)
		c.tables.AddSource(src)
	}
}
