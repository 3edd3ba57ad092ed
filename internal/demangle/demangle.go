// Package demangle decodes Itanium-ABI mangled C++ symbol names.
package demangle

import "github.com/ianlancetaylor/demangle"

// Demangle returns the human-readable form of a mangled name, or the
// empty string when the name does not demangle.
func Demangle(name string) string {
	s, err := demangle.ToString(name)
	if err != nil {
		return ""
	}
	return s
}
