package gcov

import (
	"fmt"
	"strings"

	"github.com/zjy-dev/lcov-capture/internal/logger"
)

// findSource resolves or creates the SourceInfo for a filename seen in
// the note file. Relative names are anchored at the note file's
// directory, then /X/../ segments are collapsed textually. Sources with
// equal canonical paths share one node.
func (g *Graph) findSource(fileName string) *SourceInfo {
	if fileName == "" {
		fileName = "<unknown>"
	}
	name := CanonicalPath(fileName, g.NotePath)

	for src := g.Sources; src != nil; src = src.Next {
		if src.Name == name {
			return src
		}
	}

	src := &SourceInfo{Name: name}
	src.Coverage.Name = name
	if g.Sources != nil {
		src.Index = g.Sources.Index + 1
	} else {
		src.Index = 1
	}
	src.Next = g.Sources
	g.Sources = src
	return src
}

// CanonicalPath anchors a relative source name at the directory of the
// note file and collapses /X/../ segments until none remain.
func CanonicalPath(fileName, notePath string) string {
	name := fileName
	if !strings.HasPrefix(name, "/") {
		if pos := strings.LastIndexByte(notePath, '/'); pos >= 0 {
			name = notePath[:pos+1] + name
		}
	}
	for {
		found := strings.Index(name, "/../")
		if found < 0 {
			break
		}
		before := strings.LastIndexByte(name[:found], '/')
		if before < 0 {
			break
		}
		name = name[:before] + name[found+3:]
	}
	return name
}

// ReadNoteFile reads a .gcno file and assembles the per-function control
// flow graphs. A non-nil error means the pair must be skipped.
func ReadNoteFile(notePath string, opts Options) (*Graph, error) {
	buf, err := Open(notePath)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	g := &Graph{NotePath: notePath, NoteTime: buf.ModTime(), opts: opts}

	if !buf.Magic(buf.ReadUnsigned(), NoteMagic) {
		return nil, fmt.Errorf("%s: not a gcov graph file: %w", notePath, ErrBadMagic)
	}
	if version := buf.ReadUnsigned(); version != Version {
		logger.Warnf("%s: version %q, prefer %q", notePath, versionString(version), versionString(Version))
	}
	g.Stamp = buf.ReadUnsigned()

	var (
		currentTag uint32
		fn         *Function
		cur        *SourceInfo
	)

	for {
		tag := buf.ReadUnsigned()
		if tag == 0 || buf.Err() != nil {
			break
		}
		length := buf.ReadUnsigned()
		base := buf.Position()

		switch {
		case tag == tagFunction:
			ident := buf.ReadUnsigned()
			checksum := buf.ReadUnsigned()
			name := buf.ReadString()
			src := g.findSource(buf.ReadString())
			lineno := int(buf.ReadUnsigned())

			fn = &Function{
				Name:     name,
				Ident:    ident,
				Checksum: checksum,
				Src:      src,
				Line:     lineno,
			}
			fn.Next = g.Functions
			g.Functions = fn
			currentTag = tag

			if lineno >= src.NumLines {
				src.NumLines = lineno + 1
			}

			// Insert into the source's functions-by-line list; the list
			// is held in descending line order and reversed later, so
			// functions normally arrive at the head.
			var prev *Function
			probe := src.Functions
			for probe != nil && probe.Line > lineno {
				prev, probe = probe, probe.LineNext
			}
			fn.LineNext = probe
			if prev != nil {
				prev.LineNext = fn
			} else {
				src.Functions = fn
			}

		case fn != nil && tag == tagBlocks:
			if fn.Blocks != nil {
				return nil, fmt.Errorf("%s: already seen blocks for '%s': %w", notePath, fn.Name, ErrCorrupt)
			}
			numBlocks := int(tagBlocksNum(length))
			fn.Blocks = make([]*Block, numBlocks)
			for ix := 0; ix < numBlocks; ix++ {
				fn.Blocks[ix] = &Block{Index: ix, Flags: buf.ReadUnsigned(), CycleIdent: ^uint32(0)}
			}

		case fn != nil && tag == tagArcs:
			srcIx := int(buf.ReadUnsigned())
			numDests := tagArcsNum(length)

			if srcIx >= len(fn.Blocks) || fn.Blocks[srcIx].Succ != nil {
				return nil, corrupt(notePath)
			}
			srcBlk := fn.Blocks[srcIx]

			for ; numDests > 0; numDests-- {
				dest := int(buf.ReadUnsigned())
				flags := buf.ReadUnsigned()

				if dest >= len(fn.Blocks) {
					return nil, corrupt(notePath)
				}
				dstBlk := fn.Blocks[dest]

				arc := &Arc{
					Src:         srcBlk,
					Dst:         dstBlk,
					OnTree:      flags&arcOnTree != 0,
					Fake:        flags&arcFake != 0,
					FallThrough: flags&arcFallthrough != 0,
				}

				arc.SuccNext = srcBlk.Succ
				srcBlk.Succ = arc
				srcBlk.NumSucc++

				arc.PredNext = dstBlk.Pred
				dstBlk.Pred = arc
				dstBlk.NumPred++

				if arc.Fake {
					if srcIx != 0 {
						// Exceptional exit; the source block must be a
						// call.
						srcBlk.IsCallSite = true
						arc.IsCallNonReturn = true
					} else {
						// Non-local return from a callee; the
						// destination is a catch or setjmp landing pad.
						arc.IsNonlocalReturn = true
						dstBlk.IsNonlocalReturn = true
					}
				}

				if !arc.OnTree {
					fn.NumCounts++
				}
			}

		case fn != nil && tag == tagLines:
			blockno := int(buf.ReadUnsigned())
			if blockno >= len(fn.Blocks) || fn.Blocks[blockno].LineEnc != nil {
				return nil, corrupt(notePath)
			}

			enc := make([]uint32, 0, length+1)
			for {
				lineno := buf.ReadUnsigned()
				if buf.Err() != nil {
					break
				}
				if lineno != 0 {
					if len(enc) == 0 {
						if cur == nil {
							cur = fn.Src
						}
						enc = append(enc, 0, cur.Index)
					}
					enc = append(enc, lineno)
					if int(lineno) >= cur.NumLines {
						cur.NumLines = int(lineno) + 1
					}
				} else {
					fileName := buf.ReadString()
					if fileName == "" {
						break
					}
					cur = g.findSource(fileName)
					enc = append(enc, 0, cur.Index)
				}
			}
			fn.Blocks[blockno].LineEnc = enc

		case currentTag != 0 && !isSubTag(currentTag, tag):
			fn = nil
			currentTag = 0
		}

		buf.Sync(base, length)
		if err := buf.Err(); err != nil {
			return nil, corrupt(notePath)
		}
	}

	g.reverse()
	return g, nil
}

func corrupt(path string) error {
	return fmt.Errorf("%s: %w", path, ErrCorrupt)
}

func versionString(v uint32) string {
	return string([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// reverse restores compiler emission order: the records were chained
// head-first, so the source list, the function list and every block's
// arc chains all come out backwards.
func (g *Graph) reverse() {
	var srcPrev *SourceInfo
	for src := g.Sources; src != nil; {
		next := src.Next
		src.Next = srcPrev
		srcPrev, src = src, next
	}
	g.Sources = srcPrev

	var fnPrev *Function
	for fn := g.Functions; fn != nil; {
		next := fn.Next
		fn.Next = fnPrev

		for _, blk := range fn.Blocks {
			var arcPrev *Arc
			for arc := blk.Succ; arc != nil; {
				n := arc.SuccNext
				arc.SuccNext = arcPrev
				arcPrev, arc = arc, n
			}
			blk.Succ = arcPrev

			arcPrev = nil
			for arc := blk.Pred; arc != nil; {
				n := arc.PredNext
				arc.PredNext = arcPrev
				arcPrev, arc = arc, n
			}
			blk.Pred = arcPrev
		}

		fnPrev, fn = fn, next
	}
	g.Functions = fnPrev
}
