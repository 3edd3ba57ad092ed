// Package gcov reads the binary note (.gcno) and data (.gcda) files
// emitted by gcov instrumentation and reconstructs per-source coverage.
package gcov

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Sentinel errors surfaced by the reader. Callers classify per-pair
// failures with errors.Is.
var (
	ErrUnexpectedEOF = errors.New("unexpected end of file")
	ErrOvershoot     = errors.New("record overshot")
	ErrBadMagic      = errors.New("magic number mismatch")
	ErrStampMismatch = errors.New("stamp mismatch with note file")
	ErrCorrupt       = errors.New("corrupted")
)

// Buffer is a cursor over a single gcov file. Words are 32 bits wide,
// little-endian on disk by default; the actual byte order is deduced
// from the magic word and latched for all subsequent reads.
type Buffer struct {
	path    string
	data    []byte
	pos     int
	swapped bool
	modTime time.Time
	err     error
}

// Open reads the whole file into memory and positions the cursor at the
// start. The file handle is released before Open returns, so there is no
// descriptor to leak on error paths.
func Open(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat %s: %w", path, err)
	}
	return &Buffer{path: path, data: data, modTime: info.ModTime()}, nil
}

// Close releases the backing data.
func (b *Buffer) Close() {
	b.data = nil
}

// ModTime reports the modification time of the underlying file.
func (b *Buffer) ModTime() time.Time {
	return b.modTime
}

// Err reports the sticky error state, nil if all reads so far succeeded.
func (b *Buffer) Err() error {
	return b.err
}

// Position reports the current byte offset.
func (b *Buffer) Position() int {
	return b.pos
}

// Sync advances the cursor to base + length*4 bytes. If the cursor has
// already consumed past that point the record was overshot and the error
// state is set.
func (b *Buffer) Sync(base int, length uint32) {
	target := base + int(length)*4
	if b.pos > target {
		if b.err == nil {
			b.err = ErrOvershoot
		}
		return
	}
	b.pos = target
}

// ReadUnsigned reads one 32-bit word in the deduced byte order. On EOF
// the error state is set and zero is returned.
func (b *Buffer) ReadUnsigned() uint32 {
	if b.err != nil {
		return 0
	}
	if b.pos+4 > len(b.data) {
		b.err = ErrUnexpectedEOF
		return 0
	}
	p := b.data[b.pos : b.pos+4]
	b.pos += 4
	w := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	if b.swapped {
		w = bswap32(w)
	}
	return w
}

// ReadCounter reads a 64-bit counter stored as two 32-bit halves, low
// word first.
func (b *Buffer) ReadCounter() int64 {
	lo := b.ReadUnsigned()
	hi := b.ReadUnsigned()
	return int64(uint64(lo) | uint64(hi)<<32)
}

// ReadString reads a length-prefixed string. The length is in 32-bit
// words and the payload is NUL-padded; a zero length is the empty
// string.
func (b *Buffer) ReadString() string {
	length := b.ReadUnsigned()
	if b.err != nil || length == 0 {
		return ""
	}
	n := int(length) * 4
	if b.pos+n > len(b.data) {
		b.err = ErrUnexpectedEOF
		return ""
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}

// Magic checks the first word of the file against the expected magic
// constant, accepting it in either byte order. On a byte-swapped match
// every subsequent read swaps too.
func (b *Buffer) Magic(word, expect uint32) bool {
	if word == expect {
		return true
	}
	if bswap32(word) == expect {
		b.swapped = !b.swapped
		return true
	}
	return false
}

func bswap32(w uint32) uint32 {
	return w<<24 | w>>24 | (w&0x0000ff00)<<8 | (w&0x00ff0000)>>8
}
