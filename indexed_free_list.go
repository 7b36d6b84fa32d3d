package pam

import (
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/pam/memutils"
)

// intervalShift maps the smallest variable block size onto interval 0
var intervalShift = memutils.Log2(MinVariableBlockSize)

// intervalCount covers every positive int block size
var intervalCount = bits.UintSize - 1 - intervalShift

func intervalIndex(size int) int {
	index := memutils.Log2(size) - intervalShift
	if index < 0 {
		return 0
	}
	if index >= intervalCount {
		return intervalCount - 1
	}
	return index
}

// indexedFreeList is a doubly-linked backbone of free blocks in strictly ascending size order.
// Each power-of-two interval records the first and last backbone node that falls into it.
// Blocks whose size matches a backbone node hang off that node on a singly-linked chain through
// nextSameSize, so the backbone never holds two nodes of the same size.
type indexedFreeList struct {
	head  *block
	start []*block
	end   []*block
	count int
}

var _ variableFreeList = &indexedFreeList{}

func newIndexedFreeList() *indexedFreeList {
	return &indexedFreeList{
		start: make([]*block, intervalCount),
		end:   make([]*block, intervalCount),
	}
}

func (l *indexedFreeList) Insert(freeBlock *block) {
	freeBlock.clearLinks()
	l.count++

	interval := intervalIndex(freeBlock.size)

	// Find the last backbone node smaller than the new block
	var previous *block
	if l.start[interval] != nil {
		for current := l.start[interval]; current != nil && intervalIndex(current.size) == interval; current = current.next {
			if current.size == freeBlock.size {
				freeBlock.nextSameSize = current.nextSameSize
				current.nextSameSize = freeBlock
				return
			}
			if current.size > freeBlock.size {
				break
			}
			previous = current
		}

		if previous == nil {
			previous = l.start[interval].previous
		}
	} else {
		for lower := interval - 1; lower >= 0; lower-- {
			if l.end[lower] != nil {
				previous = l.end[lower]
				break
			}
		}
	}

	freeBlock.previous = previous
	if previous == nil {
		freeBlock.next = l.head
		l.head = freeBlock
	} else {
		freeBlock.next = previous.next
		previous.next = freeBlock
	}
	if freeBlock.next != nil {
		freeBlock.next.previous = freeBlock
	}

	if l.start[interval] == nil || freeBlock.size < l.start[interval].size {
		l.start[interval] = freeBlock
	}
	if l.end[interval] == nil || freeBlock.size > l.end[interval].size {
		l.end[interval] = freeBlock
	}
}

func (l *indexedFreeList) Take(allocSize int) *block {
	var current *block
	for interval := intervalIndex(allocSize); interval < intervalCount; interval++ {
		if l.start[interval] != nil {
			current = l.start[interval]
			break
		}
	}

	for current != nil && current.size < allocSize {
		current = current.next
	}

	if current == nil {
		return nil
	}

	l.count--

	// Prefer the chain so the backbone and interval bounds stay untouched
	if current.nextSameSize != nil {
		taken := current.nextSameSize
		current.nextSameSize = taken.nextSameSize
		taken.nextSameSize = nil
		return taken
	}

	l.unlink(current)
	return current
}

func (l *indexedFreeList) unlink(node *block) {
	interval := intervalIndex(node.size)
	switch {
	case l.start[interval] == node && l.end[interval] == node:
		l.start[interval] = nil
		l.end[interval] = nil
	case l.start[interval] == node:
		l.start[interval] = node.next
	case l.end[interval] == node:
		l.end[interval] = node.previous
	}

	if node.previous == nil {
		l.head = node.next
	} else {
		node.previous.next = node.next
	}
	if node.next != nil {
		node.next.previous = node.previous
	}

	node.clearLinks()
}

func (l *indexedFreeList) Count() int {
	return l.count
}

func (l *indexedFreeList) Visit(visitor func(freeBlock *block)) {
	for current := l.head; current != nil; current = current.next {
		visitor(current)
		for chained := current.nextSameSize; chained != nil; chained = chained.nextSameSize {
			visitor(chained)
		}
	}
}

// IntervalCounts reports the number of free blocks, chained ones included, in every non-empty
// interval, keyed by the interval's smallest block size
func (l *indexedFreeList) IntervalCounts() map[int]int {
	counts := make(map[int]int)
	for current := l.head; current != nil; current = current.next {
		key := 1 << (intervalIndex(current.size) + intervalShift)
		counts[key]++
		for chained := current.nextSameSize; chained != nil; chained = chained.nextSameSize {
			counts[key]++
		}
	}
	return counts
}

func (l *indexedFreeList) Clear() {
	l.head = nil
	l.count = 0
	for interval := range l.start {
		l.start[interval] = nil
		l.end[interval] = nil
	}
}

func (l *indexedFreeList) Validate() error {
	firstSeen := make([]*block, intervalCount)
	lastSeen := make([]*block, intervalCount)

	var count int
	var previous *block
	for current := l.head; current != nil; current = current.next {
		if current.previous != previous {
			return errors.Newf("indexed free list node of size %d has a broken back link", current.size)
		}
		if previous != nil && current.size <= previous.size {
			return errors.Newf("indexed free list is not strictly ascending: size %d follows size %d",
				current.size, previous.size)
		}

		interval := intervalIndex(current.size)
		if firstSeen[interval] == nil {
			firstSeen[interval] = current
		}
		lastSeen[interval] = current

		count++
		for chained := current.nextSameSize; chained != nil; chained = chained.nextSameSize {
			if chained.size != current.size {
				return errors.Newf("block of size %d is chained under a node of size %d", chained.size, current.size)
			}
			if chained.next != nil || chained.previous != nil {
				return errors.Newf("chained block of size %d carries backbone links", chained.size)
			}
			count++
		}

		previous = current
	}

	for interval := 0; interval < intervalCount; interval++ {
		if l.start[interval] != firstSeen[interval] {
			return errors.Newf("interval %d start does not match its first backbone node", interval)
		}
		if l.end[interval] != lastSeen[interval] {
			return errors.Newf("interval %d end does not match its last backbone node", interval)
		}
	}

	if count != l.count {
		return errors.Newf("indexed free list holds %d blocks but counts %d", count, l.count)
	}
	return nil
}
