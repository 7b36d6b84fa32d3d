package pam

import (
	"github.com/cockroachdb/errors"
)

// fixedBuckets holds one LIFO free list per small block size. Bucket i holds blocks whose
// size is HeaderSize + i*PointerWidth.
type fixedBuckets struct {
	heads  [SmallBucketCount]*block
	counts [SmallBucketCount]int
}

func (b *fixedBuckets) Push(freeBlock *block) {
	index := bucketIndex(freeBlock.size)
	freeBlock.next = b.heads[index]
	b.heads[index] = freeBlock
	b.counts[index]++
}

func (b *fixedBuckets) Pop(index int) *block {
	head := b.heads[index]
	if head == nil {
		return nil
	}

	b.heads[index] = head.next
	b.counts[index]--
	head.next = nil
	return head
}

func (b *fixedBuckets) Count() int {
	var count int
	for _, bucketCount := range b.counts {
		count += bucketCount
	}
	return count
}

func (b *fixedBuckets) Visit(visitor func(freeBlock *block)) {
	for _, head := range b.heads {
		for current := head; current != nil; current = current.next {
			visitor(current)
		}
	}
}

func (b *fixedBuckets) Clear() {
	for index := range b.heads {
		b.heads[index] = nil
		b.counts[index] = 0
	}
}

func (b *fixedBuckets) Validate() error {
	for index, head := range b.heads {
		var count int
		for current := head; current != nil; current = current.next {
			if bucketIndex(current.size) != index {
				return errors.Newf("block of size %d found in fixed bucket %d", current.size, index)
			}
			if current.previous != nil || current.nextSameSize != nil {
				return errors.Newf("block of size %d in fixed bucket %d carries variable list links", current.size, index)
			}
			count++
		}

		if count != b.counts[index] {
			return errors.Newf("fixed bucket %d holds %d blocks but counts %d", index, count, b.counts[index])
		}
	}

	return nil
}

// variableFreeList holds free blocks of MinVariableBlockSize bytes or more
type variableFreeList interface {
	Insert(freeBlock *block)
	// Take unlinks and returns a block of at least allocSize bytes, or nil if there is none
	Take(allocSize int) *block
	Count() int
	Visit(visitor func(freeBlock *block))
	Clear()
	Validate() error
}

// sortedFreeList is a singly-linked list ordered by non-decreasing size. Take is first-fit,
// which on a sorted list is also best-fit.
type sortedFreeList struct {
	head  *block
	count int
}

var _ variableFreeList = &sortedFreeList{}

func (l *sortedFreeList) Insert(freeBlock *block) {
	var previous *block
	current := l.head
	for current != nil && current.size < freeBlock.size {
		previous = current
		current = current.next
	}

	freeBlock.next = current
	if previous == nil {
		l.head = freeBlock
	} else {
		previous.next = freeBlock
	}
	l.count++
}

func (l *sortedFreeList) Take(allocSize int) *block {
	var previous *block
	current := l.head
	for current != nil && current.size < allocSize {
		previous = current
		current = current.next
	}

	if current == nil {
		return nil
	}

	if previous == nil {
		l.head = current.next
	} else {
		previous.next = current.next
	}
	current.next = nil
	l.count--
	return current
}

func (l *sortedFreeList) Count() int {
	return l.count
}

func (l *sortedFreeList) Visit(visitor func(freeBlock *block)) {
	for current := l.head; current != nil; current = current.next {
		visitor(current)
	}
}

func (l *sortedFreeList) Clear() {
	l.head = nil
	l.count = 0
}

func (l *sortedFreeList) Validate() error {
	var count int
	lastSize := 0
	for current := l.head; current != nil; current = current.next {
		if current.size < lastSize {
			return errors.Newf("variable free list is out of order: size %d follows size %d", current.size, lastSize)
		}
		lastSize = current.size
		count++
	}

	if count != l.count {
		return errors.Newf("variable free list holds %d blocks but counts %d", count, l.count)
	}
	return nil
}
