package segment

import (
	"fmt"
	"unsafe"
)

// Address identifies a byte inside a segment's mapping. The zero Address never refers to a
// valid byte.
type Address uintptr

// Category is an opaque tag carried by segments so that the memory they hold can be accounted
// for by whoever maps it. Only CategoryScratch changes provider behavior.
type Category uint32

const (
	CategoryPersistent Category = iota
	CategoryScratch
	CategoryCode
)

var categoryMapping = map[Category]string{
	CategoryPersistent: "Persistent",
	CategoryScratch:    "Scratch",
	CategoryCode:       "Code",
}

func (c Category) String() string {
	str, ok := categoryMapping[c]
	if !ok {
		return fmt.Sprintf("Category(%d)", uint32(c))
	}
	return str
}

// Segment is one contiguous range of memory with a bump cursor. A segment is owned by
// exactly one party at a time: the provider that produced it, or whoever requested it and
// has not yet released it.
type Segment struct {
	data     []byte
	base     Address
	top      Address
	cursor   Address
	category Category
}

func newSegment(data []byte, category Category) *Segment {
	if len(data) == 0 {
		panic("attempted to create a segment without backing memory")
	}

	base := Address(unsafe.Pointer(unsafe.SliceData(data)))
	return &Segment{
		data:     data,
		base:     base,
		top:      base + Address(len(data)),
		cursor:   base,
		category: category,
	}
}

// NewSegment wraps caller-owned memory in a Segment. The memory must stay reachable and
// unmoved for the segment's lifetime, which holds for any slice since the collector does
// not relocate heap objects.
func NewSegment(data []byte, category Category) *Segment {
	return newSegment(data, category)
}

// subSegment carves a segment that shares size bytes of memory with s, starting at offset
func (s *Segment) subSegment(offset, size int) *Segment {
	return newSegment(s.data[offset:offset+size:offset+size], s.category)
}

func (s *Segment) Base() Address       { return s.base }
func (s *Segment) Top() Address        { return s.top }
func (s *Segment) Cursor() Address     { return s.cursor }
func (s *Segment) Category() Category  { return s.category }
func (s *Segment) Size() int           { return int(s.top - s.base) }
func (s *Segment) Remaining() int      { return int(s.top - s.cursor) }
func (s *Segment) Used() int           { return int(s.cursor - s.base) }
func (s *Segment) Bytes() []byte       { return s.data }
func (s *Segment) Contains(a Address) bool {
	return a >= s.base && a < s.top
}

// Allocate bumps the cursor by size bytes and returns the address where the carved range
// begins. It returns false without touching the cursor when the segment cannot fit size
// more bytes.
func (s *Segment) Allocate(size int) (Address, bool) {
	if size < 0 || size > s.Remaining() {
		return 0, false
	}

	addr := s.cursor
	s.cursor += Address(size)
	return addr, true
}

// Reset rewinds the cursor back to the start of the segment
func (s *Segment) Reset() {
	s.cursor = s.base
}

// Offset converts an address inside the segment into an offset from its base
func (s *Segment) Offset(a Address) int {
	if a < s.base || a > s.top {
		panic(fmt.Sprintf("address %#x is outside of segment [%#x, %#x)", uintptr(a), uintptr(s.base), uintptr(s.top)))
	}
	return int(a - s.base)
}

// Slice returns the size bytes that start at addr
func (s *Segment) Slice(addr Address, size int) []byte {
	offset := s.Offset(addr)
	return s.data[offset : offset+size : offset+size]
}

func (s *Segment) String() string {
	return fmt.Sprintf("Segment{base: %#x, top: %#x, cursor: %#x, category: %s}",
		uintptr(s.base), uintptr(s.top), uintptr(s.cursor), s.category)
}
