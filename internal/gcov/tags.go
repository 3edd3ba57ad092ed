package gcov

// File magics, "gcno" and "gcda" packed big-endian.
const (
	NoteMagic uint32 = 0x67636e6f
	DataMagic uint32 = 0x67636461
)

// Version word this reader was written against, "405*". A different
// version in the file is reported but the read is still attempted.
const Version uint32 = 0x3430352a

// Record tags.
const (
	tagFunction       uint32 = 0x01000000
	tagBlocks         uint32 = 0x01410000
	tagArcs           uint32 = 0x01430000
	tagLines          uint32 = 0x01450000
	tagCounterBase    uint32 = 0x01a10000
	tagObjectSummary  uint32 = 0xa1000000
	tagProgramSummary uint32 = 0xa3000000
)

// The arc counter is counter zero; its records are tagged at the
// counter base, each subsequent counter kind 1<<17 above it.
func tagForCounter(counter uint32) uint32 {
	return tagCounterBase + counter<<17
}

const counterArcs uint32 = 0

// Arc flag bits in the note file.
const (
	arcOnTree      = 1 << 0
	arcFake        = 1 << 1
	arcFallthrough = 1 << 2
)

func tagMask(tag uint32) uint32 {
	return (tag - 1) ^ tag
}

// isSubTag reports whether sub nests beneath tag in the record
// hierarchy.
func isSubTag(tag, sub uint32) bool {
	return tagMask(tag)>>8 == tagMask(sub) && (sub^tag)&^tagMask(tag) == 0
}

// Payload unit conversions: lengths are in 32-bit words.
func tagBlocksNum(length uint32) uint32 { return length }
func tagArcsNum(length uint32) uint32   { return (length - 1) / 2 }
func tagCounterLength(num int) uint32   { return uint32(2 * num) }
