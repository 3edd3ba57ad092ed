package report

import "github.com/zjy-dev/lcov-capture/internal/aggregate"

// Reporter defines the interface for writing aggregated coverage.
type Reporter interface {
	// Write flushes the tables to disk.
	Write(tables *aggregate.Tables) error
}
