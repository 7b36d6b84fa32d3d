package pam

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"github.com/vkngwrapper/arsenal/pam/segment"
)

const (
	// PointerWidth is the allocation granule. Every block size is a multiple of it.
	PointerWidth int = int(unsafe.Sizeof(uintptr(0)))
	// HeaderSize is the number of bytes in front of every payload
	HeaderSize int = 2 * PointerWidth
	// SmallBucketCount is the number of fixed-size free lists. A block whose payload is
	// smaller than SmallBucketCount pointer widths lives in a fixed bucket, anything larger is a
	// variable block.
	SmallBucketCount int = 16
	// MinVariableBlockSize is the smallest block size handled by the variable free list
	MinVariableBlockSize int = HeaderSize + SmallBucketCount*PointerWidth

	// maxAllocationSize is the largest request whose block size still fits in an int
	maxAllocationSize int = math.MaxInt - HeaderSize - PointerWidth
)

const (
	liveBlockTag uint64 = 0x4C495645424C4B21
	freeBlockTag uint64 = 0x46524545424C4B21
)

// block is the side-table record of one header-prefixed block. Free-list linkage lives here
// rather than in the block's own memory, so a payload handed to a caller never aliases a
// link pointer.
type block struct {
	segment *segment.Segment
	address segment.Address
	size    int
	free    bool

	// next links every free list; previous and nextSameSize are only used by the indexed
	// variable list
	next         *block
	previous     *block
	nextSameSize *block
}

func (b *block) payload() segment.Address {
	return b.address + segment.Address(HeaderSize)
}

func (b *block) payloadBytes() []byte {
	return b.segment.Slice(b.payload(), b.size-HeaderSize)
}

func (b *block) clearLinks() {
	b.next = nil
	b.previous = nil
	b.nextSameSize = nil
}

func (b *block) writeHeader() {
	header := b.segment.Slice(b.address, HeaderSize)
	tag := liveBlockTag
	if b.free {
		tag = freeBlockTag
	}

	if PointerWidth == 8 {
		binary.LittleEndian.PutUint64(header[0:8], uint64(b.size))
		binary.LittleEndian.PutUint64(header[8:16], tag)
	} else {
		binary.LittleEndian.PutUint32(header[0:4], uint32(b.size))
		binary.LittleEndian.PutUint32(header[4:8], uint32(tag))
	}
}

func (b *block) validateHeader() error {
	header := b.segment.Slice(b.address, HeaderSize)
	var size, tag uint64
	expectedTag := liveBlockTag
	if b.free {
		expectedTag = freeBlockTag
	}

	if PointerWidth == 8 {
		size = binary.LittleEndian.Uint64(header[0:8])
		tag = binary.LittleEndian.Uint64(header[8:16])
	} else {
		size = uint64(binary.LittleEndian.Uint32(header[0:4]))
		tag = uint64(binary.LittleEndian.Uint32(header[4:8]))
		expectedTag = uint64(uint32(expectedTag))
	}

	if size != uint64(b.size) {
		return errors.Newf("block at %#x has size %d but its header records %d", uintptr(b.address), b.size, size)
	}
	if tag != expectedTag {
		return errors.Newf("block at %#x (free: %t) has a corrupt header tag %#x", uintptr(b.address), b.free, tag)
	}
	return nil
}

// allocationSize converts a requested payload size into a block size
func allocationSize(size int) int {
	if size == 0 {
		size = PointerWidth
	}
	return HeaderSize + memutils.AlignUp(size, PointerWidth)
}

// bucketIndex classifies a block size. Indices below SmallBucketCount name a fixed bucket.
func bucketIndex(blockSize int) int {
	return (blockSize - HeaderSize) / PointerWidth
}

func isFixedSize(blockSize int) bool {
	return bucketIndex(blockSize) < SmallBucketCount
}
