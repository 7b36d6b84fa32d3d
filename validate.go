package pam

import (
	"cmp"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/pam/segment"
	"golang.org/x/exp/slices"
)

// Validate checks the allocator's bookkeeping against itself and against the block headers
// written into segment memory. It returns the first inconsistency found. It holds every lock
// for the duration of the check, so it is expensive.
func (a *Allocator) Validate() error {
	a.lockAll()
	defer a.unlockAll()

	err := a.buckets.Validate()
	if err != nil {
		return err
	}
	err = a.variable.Validate()
	if err != nil {
		return err
	}

	listed := make(map[*block]struct{})
	a.buckets.Visit(func(freeBlock *block) {
		listed[freeBlock] = struct{}{}
	})
	var variableErr error
	a.variable.Visit(func(freeBlock *block) {
		if variableErr == nil && isFixedSize(freeBlock.size) {
			variableErr = errors.Newf("block of size %d is too small for the variable free list", freeBlock.size)
		}
		listed[freeBlock] = struct{}{}
	})
	if variableErr != nil {
		return variableErr
	}

	owned := make(map[*segment.Segment][]*block, len(a.segments))
	for _, seg := range a.segments {
		owned[seg] = nil
	}

	var freeCount int
	a.blocks.visit(func(b *block) bool {
		segmentBlocks, ok := owned[b.segment]
		if !ok {
			err = errors.Newf("block at %#x belongs to a segment this allocator does not own", uintptr(b.address))
			return false
		}
		if !b.segment.Contains(b.address) || !b.segment.Contains(b.address+segment.Address(b.size-1)) {
			err = errors.Newf("block at %#x runs outside %s", uintptr(b.address), b.segment)
			return false
		}
		owned[b.segment] = append(segmentBlocks, b)

		err = b.validateHeader()
		if err != nil {
			return false
		}

		_, onList := listed[b]
		if b.free {
			freeCount++
			if !onList {
				err = errors.Newf("free block at %#x is not on any free list", uintptr(b.address))
				return false
			}
		} else {
			if onList {
				err = errors.Newf("live block at %#x is on a free list", uintptr(b.address))
				return false
			}
			if b.next != nil || b.previous != nil || b.nextSameSize != nil {
				err = errors.Newf("live block at %#x carries free list links", uintptr(b.address))
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	if freeCount != len(listed) {
		return errors.Newf("%d blocks are marked free but the free lists hold %d", freeCount, len(listed))
	}

	// Blocks tile each segment's used range with no gaps or overlaps
	for seg, segmentBlocks := range owned {
		slices.SortFunc(segmentBlocks, func(left, right *block) int {
			return cmp.Compare(left.address, right.address)
		})

		expected := seg.Base()
		for _, b := range segmentBlocks {
			if b.address != expected {
				return errors.Newf("block at %#x in %s should start at %#x", uintptr(b.address), seg, uintptr(expected))
			}
			expected += segment.Address(b.size)
		}
		if expected != seg.Cursor() {
			return errors.Newf("blocks in %s end at %#x but the segment is carved up to %#x",
				seg, uintptr(expected), uintptr(seg.Cursor()))
		}
	}

	return nil
}
