package gcov

import (
	"fmt"

	"github.com/zjy-dev/lcov-capture/internal/logger"
)

// ReadDataFile reads a .gcda file and attaches the measured arc counts
// to the functions of the graph. Counts are added, not assigned, so
// replaying several data files against one graph accumulates. A non-nil
// error means the pair must be skipped.
func (g *Graph) ReadDataFile(dataPath string) error {
	buf, err := Open(dataPath)
	if err != nil {
		return err
	}
	defer buf.Close()

	if !buf.Magic(buf.ReadUnsigned(), DataMagic) {
		return fmt.Errorf("%s: not a gcov data file: %w", dataPath, ErrBadMagic)
	}
	if version := buf.ReadUnsigned(); version != Version {
		logger.Warnf("%s: version %q, prefer version %q", dataPath, versionString(version), versionString(Version))
	}
	if stamp := buf.ReadUnsigned(); stamp != g.Stamp {
		return fmt.Errorf("%s: %w", dataPath, ErrStampMismatch)
	}

	var fn *Function

	for {
		tag := buf.ReadUnsigned()
		if tag == 0 || buf.Err() != nil {
			break
		}
		length := buf.ReadUnsigned()
		base := buf.Position()

		switch {
		case tag == tagObjectSummary:
			g.ObjectSummary = readSummary(buf)

		case tag == tagProgramSummary:
			g.ProgramCount++

		case tag == tagFunction:
			ident := buf.ReadUnsigned()

			// Advance the function cursor: functions normally appear in
			// the same order as the note file, so search forward from
			// the last match, wrapping once.
			fnN := g.Functions
			if fn != nil {
				fn = fn.Next
			}
			for {
				if fn == nil {
					if fnN != nil {
						fn, fnN = fnN, nil
					} else {
						logger.Warnf("%s: unknown function '%d'", dataPath, ident)
						break
					}
				}
				if fn.Ident == ident {
					break
				}
				fn = fn.Next
			}

			if fn != nil && buf.ReadUnsigned() != fn.Checksum {
				return fmt.Errorf("%s: profile mismatch for '%s': %w", dataPath, fn.Name, ErrCorrupt)
			}

		case tag == tagForCounter(counterArcs) && fn != nil:
			if length != tagCounterLength(fn.NumCounts) {
				return fmt.Errorf("%s: profile mismatch for '%s': %w", dataPath, fn.Name, ErrCorrupt)
			}
			if fn.Counts == nil {
				fn.Counts = make([]int64, fn.NumCounts)
			}
			for ix := 0; ix < fn.NumCounts; ix++ {
				fn.Counts[ix] += buf.ReadCounter()
			}
		}

		buf.Sync(base, length)
		if err := buf.Err(); err != nil {
			return fmt.Errorf("%s: %w", dataPath, err)
		}
	}

	return nil
}

func readSummary(buf *Buffer) Summary {
	return Summary{
		Checksum: buf.ReadUnsigned(),
		Num:      buf.ReadUnsigned(),
		Runs:     buf.ReadUnsigned(),
		SumAll:   buf.ReadCounter(),
		RunMax:   buf.ReadCounter(),
		SumMax:   buf.ReadCounter(),
	}
}
