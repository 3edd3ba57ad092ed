// Package scan locates the gcov data files beneath a directory root.
package scan

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DataSuffix is the extension of gcov data files.
const DataSuffix = ".gcda"

// NoteSuffix is the extension of the matching compile-time note files.
const NoteSuffix = ".gcno"

// NoteFor derives the note filename for a data file.
func NoteFor(dataPath string) string {
	return strings.TrimSuffix(dataPath, DataSuffix) + NoteSuffix
}

// DataFiles walks root and returns every .gcda path, sorted ascending so
// later aggregation is independent of enumeration order. Dot directories
// are skipped.
func DataFiles(root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), DataSuffix) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Strings(paths)
	return paths, nil
}
