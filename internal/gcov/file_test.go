package gcov

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// fileBuilder assembles synthetic gcno/gcda images word by word, in the
// same layout the instrumentation writes.
type fileBuilder struct {
	buf     bytes.Buffer
	swapped bool
}

func (b *fileBuilder) word(w uint32) {
	var p [4]byte
	if b.swapped {
		binary.BigEndian.PutUint32(p[:], w)
	} else {
		binary.LittleEndian.PutUint32(p[:], w)
	}
	b.buf.Write(p[:])
}

func (b *fileBuilder) counter(v int64) {
	b.word(uint32(uint64(v)))
	b.word(uint32(uint64(v) >> 32))
}

func (b *fileBuilder) str(s string) {
	if s == "" {
		b.word(0)
		return
	}
	alloc := (len(s) + 4) >> 2
	b.word(uint32(alloc))
	p := make([]byte, alloc*4)
	copy(p, s)
	b.buf.Write(p)
}

// record emits a tag/length record with a payload assembled by fill.
func (b *fileBuilder) record(tag uint32, fill func(p *fileBuilder)) {
	p := &fileBuilder{swapped: b.swapped}
	fill(p)
	b.word(tag)
	b.word(uint32(p.buf.Len() / 4))
	b.buf.Write(p.buf.Bytes())
}

func (b *fileBuilder) writeTo(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, b.buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// arcSpec is one outgoing arc of a block in a note-file description.
type arcSpec struct {
	dst   uint32
	flags uint32
}

// funcSpec describes one function of a synthetic note file.
type funcSpec struct {
	ident    uint32
	checksum uint32
	name     string
	file     string
	line     uint32

	numBlocks uint32
	arcs      map[uint32][]arcSpec
	// lines[block] is the sequence of line numbers attributed to the
	// block, all within funcSpec.file.
	lines map[uint32][]uint32
}

const testStamp uint32 = 0x12345678

// buildNote writes a note file for the given functions and returns its
// path.
func buildNote(t *testing.T, dir, name string, fns []funcSpec) string {
	t.Helper()
	b := &fileBuilder{}
	b.word(NoteMagic)
	b.word(Version)
	b.word(testStamp)

	for _, fn := range fns {
		fn := fn
		b.record(tagFunction, func(p *fileBuilder) {
			p.word(fn.ident)
			p.word(fn.checksum)
			p.str(fn.name)
			p.str(fn.file)
			p.word(fn.line)
		})
		b.record(tagBlocks, func(p *fileBuilder) {
			for ix := uint32(0); ix < fn.numBlocks; ix++ {
				p.word(0)
			}
		})
		for src := uint32(0); src < fn.numBlocks; src++ {
			arcs := fn.arcs[src]
			if len(arcs) == 0 {
				continue
			}
			b.record(tagArcs, func(p *fileBuilder) {
				p.word(src)
				for _, arc := range arcs {
					p.word(arc.dst)
					p.word(arc.flags)
				}
			})
		}
		for blk := uint32(0); blk < fn.numBlocks; blk++ {
			lines := fn.lines[blk]
			if len(lines) == 0 {
				continue
			}
			b.record(tagLines, func(p *fileBuilder) {
				p.word(blk)
				p.word(0)
				p.str(fn.file)
				for _, line := range lines {
					p.word(line)
				}
				p.word(0)
				p.str("")
			})
		}
	}

	path := filepath.Join(dir, name)
	b.writeTo(t, path)
	return path
}

// countSpec pairs a function identity with its measured counter array.
type countSpec struct {
	ident    uint32
	checksum uint32
	counts   []int64
}

// buildData writes a data file carrying the given counter arrays.
func buildData(t *testing.T, dir, name string, stamp uint32, fns []countSpec) string {
	t.Helper()
	b := &fileBuilder{}
	b.word(DataMagic)
	b.word(Version)
	b.word(stamp)

	for _, fn := range fns {
		fn := fn
		b.record(tagFunction, func(p *fileBuilder) {
			p.word(fn.ident)
			p.word(fn.checksum)
		})
		b.record(tagForCounter(counterArcs), func(p *fileBuilder) {
			for _, c := range fn.counts {
				p.counter(c)
			}
		})
	}

	path := filepath.Join(dir, name)
	b.writeTo(t, path)
	return path
}
