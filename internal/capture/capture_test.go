package capture

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/lcov-capture/internal/aggregate"
	"github.com/zjy-dev/lcov-capture/internal/gcov"
	"github.com/zjy-dev/lcov-capture/internal/report"
)

// Binary layout constants, mirrored from the reader.
const (
	noteMagic       = 0x67636e6f
	dataMagic       = 0x67636461
	version         = 0x3430352a
	stamp           = 0x00c0ffee
	tagFunction     = 0x01000000
	tagBlocks       = 0x01410000
	tagArcs         = 0x01430000
	tagLines        = 0x01450000
	tagArcCounts    = 0x01a10000
	flagOnTree      = 1 << 0
	flagFake        = 1 << 1
	flagFallthrough = 1 << 2
)

type image struct{ buf bytes.Buffer }

func (im *image) word(w uint32) {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], w)
	im.buf.Write(p[:])
}

func (im *image) counter(v int64) {
	im.word(uint32(uint64(v)))
	im.word(uint32(uint64(v) >> 32))
}

func (im *image) str(s string) {
	alloc := (len(s) + 4) >> 2
	im.word(uint32(alloc))
	p := make([]byte, alloc*4)
	copy(p, s)
	im.buf.Write(p)
}

func (im *image) record(tag uint32, fill func(p *image)) {
	p := &image{}
	fill(p)
	im.word(tag)
	im.word(uint32(p.buf.Len() / 4))
	im.buf.Write(p.buf.Bytes())
}

func (im *image) write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, im.buf.Bytes(), 0644))
}

// straightLine is a two-block function F at line 10 with a single
// on-tree arc and nothing instrumented.
func straightLine(t *testing.T, dir string) {
	note := &image{}
	note.word(noteMagic)
	note.word(version)
	note.word(stamp)
	note.record(tagFunction, func(p *image) {
		p.word(1)
		p.word(0xf00d)
		p.str("F")
		p.str("f.c")
		p.word(10)
	})
	note.record(tagBlocks, func(p *image) { p.word(0); p.word(0) })
	note.record(tagArcs, func(p *image) {
		p.word(0)
		p.word(1)
		p.word(flagOnTree | flagFallthrough)
	})
	note.record(tagLines, func(p *image) {
		p.word(1)
		p.word(0)
		p.str("f.c")
		p.word(10)
		p.word(0)
		p.word(0)
	})
	note.write(t, filepath.Join(dir, "f.gcno"))

	data := &image{}
	data.word(dataMagic)
	data.word(version)
	data.word(stamp)
	data.record(tagFunction, func(p *image) { p.word(1); p.word(0xf00d) })
	data.record(tagArcCounts, func(p *image) {})
	data.write(t, filepath.Join(dir, "f.gcda"))
}

// branchPair is a diamond: 0 -> 1, the block on line 20 branches to
// blocks on lines 21 and 22, merging at the exit. The entry arc and the
// first branch side are instrumented; the rest ride the tree.
func branchPair(t *testing.T, dir string, counts []int64) {
	note := &image{}
	note.word(noteMagic)
	note.word(version)
	note.word(stamp)
	note.record(tagFunction, func(p *image) {
		p.word(2)
		p.word(0xbead)
		p.str("choose")
		p.str("b.c")
		p.word(20)
	})
	note.record(tagBlocks, func(p *image) {
		for ix := 0; ix < 5; ix++ {
			p.word(0)
		}
	})
	note.record(tagArcs, func(p *image) {
		p.word(0)
		p.word(1)
		p.word(0)
	})
	note.record(tagArcs, func(p *image) {
		p.word(1)
		p.word(2)
		p.word(0)
		p.word(3)
		p.word(flagOnTree | flagFallthrough)
	})
	note.record(tagArcs, func(p *image) {
		p.word(2)
		p.word(4)
		p.word(flagOnTree)
	})
	note.record(tagArcs, func(p *image) {
		p.word(3)
		p.word(4)
		p.word(flagOnTree | flagFallthrough)
	})
	for blk, line := range map[uint32]uint32{1: 20, 2: 21, 3: 22} {
		note.record(tagLines, func(p *image) {
			p.word(blk)
			p.word(0)
			p.str("b.c")
			p.word(line)
			p.word(0)
			p.word(0)
		})
	}
	note.write(t, filepath.Join(dir, "b.gcno"))

	data := &image{}
	data.word(dataMagic)
	data.word(version)
	data.word(stamp)
	data.record(tagFunction, func(p *image) { p.word(2); p.word(0xbead) })
	data.record(tagArcCounts, func(p *image) {
		for _, c := range counts {
			p.counter(c)
		}
	})
	data.write(t, filepath.Join(dir, "b.gcda"))
}

// loopPair has a single interior block on line 30 looping on itself.
func loopPair(t *testing.T, dir string, entry, back int64) {
	note := &image{}
	note.word(noteMagic)
	note.word(version)
	note.word(stamp)
	note.record(tagFunction, func(p *image) {
		p.word(3)
		p.word(0x5009)
		p.str("spin")
		p.str("l.c")
		p.word(30)
	})
	note.record(tagBlocks, func(p *image) { p.word(0); p.word(0); p.word(0) })
	note.record(tagArcs, func(p *image) {
		p.word(0)
		p.word(1)
		p.word(0)
	})
	note.record(tagArcs, func(p *image) {
		p.word(1)
		p.word(1)
		p.word(0)
		p.word(2)
		p.word(flagOnTree | flagFallthrough)
	})
	note.record(tagLines, func(p *image) {
		p.word(1)
		p.word(0)
		p.str("l.c")
		p.word(30)
		p.word(0)
		p.word(0)
	})
	note.write(t, filepath.Join(dir, "l.gcno"))

	data := &image{}
	data.word(dataMagic)
	data.word(version)
	data.word(stamp)
	data.record(tagFunction, func(p *image) { p.word(3); p.word(0x5009) })
	data.record(tagArcCounts, func(p *image) {
		p.counter(entry)
		p.counter(back)
	})
	data.write(t, filepath.Join(dir, "l.gcda"))
}

func run(t *testing.T, root string) *Capture {
	t.Helper()
	session := New(gcov.DefaultOptions())
	require.NoError(t, session.Run(root))
	return session
}

func reportFor(t *testing.T, session *Capture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.info")
	require.NoError(t, report.NewLcovWriter(path).Write(session.Tables()))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestCaptureScenarios(t *testing.T) {
	t.Run("trivial straight-line function", func(t *testing.T) {
		dir := t.TempDir()
		straightLine(t, dir)
		session := run(t, dir)

		content := reportFor(t, session)
		assert.Contains(t, content, "SF:"+dir+"/f.c\n")
		assert.Contains(t, content, "FN:10,F\n")
		assert.Contains(t, content, "FNDA:0,F\n")
		assert.Contains(t, content, "FNF:1\n")
		assert.Contains(t, content, "FNH:0\n")
		assert.Contains(t, content, "DA:10,0\n")
		assert.NotContains(t, content, "BRDA:")
		assert.Contains(t, content, "end_of_record\n")
	})

	t.Run("single branch executed once on each side", func(t *testing.T) {
		dir := t.TempDir()
		branchPair(t, dir, []int64{2, 1})
		session := run(t, dir)

		src := dir + "/b.c"
		assert.Equal(t, int64(2), session.Tables().Lines[src][20])
		assert.Equal(t, int64(1), session.Tables().Lines[src][21])
		assert.Equal(t, int64(1), session.Tables().Lines[src][22])

		content := reportFor(t, session)
		assert.Contains(t, content, "BRDA:20,0,0,1\n")
		assert.Contains(t, content, "BRDA:20,0,1,1\n")
		assert.Contains(t, content, "BRF:2\n")
		assert.Contains(t, content, "BRH:2\n")
		assert.Contains(t, content, "FNDA:2,choose\n")
	})

	t.Run("never-taken branch side reports zero", func(t *testing.T) {
		dir := t.TempDir()
		branchPair(t, dir, []int64{1, 0})
		session := run(t, dir)

		content := reportFor(t, session)
		assert.Contains(t, content, "BRDA:20,0,0,0\n")
		assert.Contains(t, content, "BRDA:20,0,1,1\n")
		assert.Contains(t, content, "BRF:2\n")
		assert.Contains(t, content, "BRH:1\n")
		assert.NotContains(t, content, ",-\n")
	})

	t.Run("branch whose source was never reached", func(t *testing.T) {
		dir := t.TempDir()
		branchPair(t, dir, []int64{0, 0})
		session := run(t, dir)

		content := reportFor(t, session)
		assert.Contains(t, content, "BRDA:20,0,0,-\n")
		assert.Contains(t, content, "BRDA:20,0,1,-\n")
		assert.Contains(t, content, "DA:20,0\n")
		assert.Contains(t, content, "FNDA:0,choose\n")
	})

	t.Run("single-block loop counts entry plus cycles", func(t *testing.T) {
		dir := t.TempDir()
		loopPair(t, dir, 3, 7)
		session := run(t, dir)

		content := reportFor(t, session)
		assert.Contains(t, content, "DA:30,10\n")
		assert.Contains(t, content, "FNDA:3,spin\n")
	})

	t.Run("pairs from different directories stay separate", func(t *testing.T) {
		root := t.TempDir()
		dirA := filepath.Join(root, "run1")
		dirB := filepath.Join(root, "run2")
		require.NoError(t, os.MkdirAll(dirA, 0755))
		require.NoError(t, os.MkdirAll(dirB, 0755))
		branchPair(t, dirA, []int64{2, 1})
		branchPair(t, dirB, []int64{2, 1})

		session := run(t, root)

		// The two pairs name the same relative source from different
		// note directories, so they aggregate separately; each carries
		// the single pair's counts.
		srcA := dirA + "/b.c"
		srcB := dirB + "/b.c"
		assert.Equal(t, int64(2), session.Tables().Lines[srcA][20])
		assert.Equal(t, int64(2), session.Tables().Lines[srcB][20])
	})

	t.Run("same source accumulates elementwise", func(t *testing.T) {
		dir := t.TempDir()
		branchPair(t, dir, []int64{2, 1})
		session := run(t, dir)
		// Replay the identical pair into the same session.
		session.ProcessPair(filepath.Join(dir, "b.gcda"))

		src := dir + "/b.c"
		assert.Equal(t, int64(4), session.Tables().Lines[src][20])
		assert.Equal(t, int64(4), session.Tables().Functions[src]["choose"].Hit)
		branches := session.Tables().Branches[src]
		assert.Equal(t, int64(2), branches[aggregate.BranchID{Line: 20, Block: 0, Branch: 0}])
		assert.Equal(t, int64(2), branches[aggregate.BranchID{Line: 20, Block: 0, Branch: 1}])
	})

	t.Run("a broken pair is skipped, the rest survive", func(t *testing.T) {
		root := t.TempDir()
		good := filepath.Join(root, "good")
		bad := filepath.Join(root, "bad")
		require.NoError(t, os.MkdirAll(good, 0755))
		require.NoError(t, os.MkdirAll(bad, 0755))
		loopPair(t, good, 1, 0)
		require.NoError(t, os.WriteFile(filepath.Join(bad, "x.gcda"), []byte("junk"), 0644))

		session := run(t, root)
		assert.Contains(t, session.Tables().Lines, good+"/l.c")
		assert.Len(t, session.Tables().Lines, 1)
	})

	t.Run("stamp mismatch skips the pair", func(t *testing.T) {
		dir := t.TempDir()
		loopPair(t, dir, 1, 0)

		// Rewrite the data file with a different stamp.
		data := &image{}
		data.word(dataMagic)
		data.word(version)
		data.word(stamp + 1)
		data.write(t, filepath.Join(dir, "l.gcda"))

		session := run(t, dir)
		assert.Empty(t, session.Tables().Lines)
	})
}
