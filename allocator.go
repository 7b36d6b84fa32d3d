package pam

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/arsenal/pam/internal/utils"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"github.com/vkngwrapper/arsenal/pam/segment"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

// Allocator is a general-purpose allocator for memory that lives as long as the allocator
// does. It requests segments from a segment.Provider, carves header-prefixed blocks out of them,
// and recycles freed blocks through size-segregated free lists. Segments are only returned to
// the provider when the allocator is destroyed.
//
// Small blocks go to one of SmallBucketCount fixed-size LIFO buckets. Larger blocks go to a
// variable free list: a sorted list by default, or an interval-indexed list when the allocator
// is created with AllocatorCreateIndexedFreeList.
//
// Locks are taken in the order fixed buckets, variable list, segments, block table. Allocate and
// Deallocate hold at most one of the first three at a time.
type Allocator struct {
	logger      *slog.Logger
	provider    segment.Provider
	createFlags CreateFlags
	category    segment.Category

	minSegmentSize  int
	segmentRequests atomic.Int64
	destroyed       atomic.Bool

	fixedMutex utils.OptionalMutex
	buckets    fixedBuckets

	variableMutex utils.OptionalMutex
	variable      variableFreeList

	segmentMutex utils.OptionalMutex
	segments     []*segment.Segment

	blocks blockTable
}

var _ memutils.Validatable = &Allocator{}

// Category is the segment category this allocator was created with
func (a *Allocator) Category() segment.Category {
	return a.category
}

// SegmentRequests is the number of segments this allocator has requested from its provider
func (a *Allocator) SegmentRequests() int {
	return int(a.segmentRequests.Load())
}

// Allocate returns the address of a payload of at least size bytes, aligned to PointerWidth.
// A size of zero is treated as PointerWidth. The payload's contents are unspecified.
func (a *Allocator) Allocate(size int) (segment.Address, error) {
	if size < 0 {
		return 0, errors.Newf("invalid allocation size: %d", size)
	}
	if size > maxAllocationSize {
		return 0, errors.Wrapf(memutils.ErrOutOfMemory, "allocation of %d bytes can never be satisfied", size)
	}
	if a.destroyed.Load() {
		return 0, errors.New("attempted to allocate from a destroyed allocator")
	}

	allocSize := allocationSize(size)

	var allocated *block
	if isFixedSize(allocSize) {
		allocated = a.allocateFixed(allocSize)
	} else {
		allocated = a.allocateVariable(allocSize)
	}

	if allocated == nil {
		var err error
		allocated, err = a.allocateFromSegment(allocSize)
		if err != nil {
			return 0, err
		}
	}

	memutils.DebugValidate(a)
	return allocated.payload(), nil
}

func (a *Allocator) allocateFixed(allocSize int) *block {
	a.fixedMutex.Lock()
	defer a.fixedMutex.Unlock()

	allocated := a.buckets.Pop(bucketIndex(allocSize))
	if allocated == nil {
		return nil
	}

	allocated.free = false
	allocated.writeHeader()
	return allocated
}

func (a *Allocator) allocateVariable(allocSize int) *block {
	a.variableMutex.Lock()

	allocated := a.variable.Take(allocSize)
	if allocated == nil {
		a.variableMutex.Unlock()
		return nil
	}

	allocated.free = false

	remainderSize := allocated.size - allocSize
	if remainderSize > HeaderSize && !isFixedSize(remainderSize) {
		a.variable.Insert(a.split(allocated, allocSize))
		remainderSize = 0
	}
	allocated.writeHeader()

	a.variableMutex.Unlock()

	if remainderSize <= HeaderSize {
		return allocated
	}

	// A small remainder is split off only after the variable lock is gone. Until then the
	// allocated block still covers it, so the block table never holds a free block that is on
	// no list.
	a.fixedMutex.Lock()
	defer a.fixedMutex.Unlock()

	remainder := a.split(allocated, allocSize)
	allocated.writeHeader()
	a.buckets.Push(remainder)

	return allocated
}

// split shrinks allocated to allocSize bytes and registers the rest of its range as a new free
// block that immediately follows it
func (a *Allocator) split(allocated *block, allocSize int) *block {
	remainder := &block{
		segment: allocated.segment,
		address: allocated.address + segment.Address(allocSize),
		size:    allocated.size - allocSize,
		free:    true,
	}
	allocated.size = allocSize

	remainder.writeHeader()
	a.blocks.Register(remainder)
	return remainder
}

// allocateFromSegment carves a new block from the first owned segment with enough room left,
// requesting a new segment from the provider when none has
func (a *Allocator) allocateFromSegment(allocSize int) (*block, error) {
	a.segmentMutex.Lock()

	var source *segment.Segment
	for _, candidate := range a.segments {
		if candidate.Remaining() >= allocSize {
			source = candidate
			break
		}
	}

	if source == nil {
		var err error
		source, err = a.requestSegment(allocSize)
		if err != nil {
			a.segmentMutex.Unlock()
			return nil, err
		}
	}

	address, ok := source.Allocate(allocSize)
	if !ok {
		a.segmentMutex.Unlock()
		panic(errors.AssertionFailedf("segment %s could not hold a block of %d bytes", source, allocSize))
	}

	// Registered before the segment lock drops so carved bytes are never unaccounted for
	allocated := &block{
		segment: source,
		address: address,
		size:    allocSize,
	}
	allocated.writeHeader()
	a.blocks.Register(allocated)
	a.segmentMutex.Unlock()

	return allocated, nil
}

func (a *Allocator) requestSegment(allocSize int) (*segment.Segment, error) {
	requestSize := max(allocSize, a.minSegmentSize)

	seg, err := a.provider.Request(requestSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to obtain a segment of %s", humanize.IBytes(uint64(requestSize)))
	}
	a.segmentRequests.Inc()

	if seg.Remaining() < allocSize {
		releaseErr := a.provider.Release(seg)
		return nil, errors.CombineErrors(
			errors.AssertionFailedf("provider returned %s for a request of %d bytes", seg, requestSize),
			releaseErr)
	}

	a.segments = append(a.segments, seg)

	a.logger.Debug("Allocator::requestSegment",
		slog.String("Category", a.category.String()),
		slog.String("RequestSize", humanize.IBytes(uint64(requestSize))),
		slog.String("SegmentSize", humanize.IBytes(uint64(seg.Size()))),
		slog.Int("Segments", len(a.segments)))

	return seg, nil
}

// Deallocate returns the block at payload to the allocator. A zero address is ignored.
//
// Freeing a payload twice, or one this allocator never handed out, panics.
func (a *Allocator) Deallocate(payload segment.Address) {
	if payload == 0 {
		return
	}

	freed := a.lookup(payload)
	if isFixedSize(freed.size) {
		a.deallocateFixed(freed)
	} else {
		a.deallocateVariable(freed)
	}

	memutils.DebugValidate(a)
}

func (a *Allocator) lookup(payload segment.Address) *block {
	found, ok := a.blocks.Lookup(payload)
	if !ok {
		panic(errors.AssertionFailedf("address %#x was not allocated by this allocator", uintptr(payload)))
	}
	return found
}

func (a *Allocator) deallocateFixed(freed *block) {
	a.fixedMutex.Lock()
	defer a.fixedMutex.Unlock()

	if freed.free {
		panic(errors.AssertionFailedf("double free of the %d-byte block at %#x", freed.size, uintptr(freed.payload())))
	}

	freed.free = true
	freed.writeHeader()
	a.buckets.Push(freed)
}

func (a *Allocator) deallocateVariable(freed *block) {
	a.variableMutex.Lock()
	defer a.variableMutex.Unlock()

	if freed.free {
		panic(errors.AssertionFailedf("double free of the %d-byte block at %#x", freed.size, uintptr(freed.payload())))
	}

	freed.free = true
	freed.writeHeader()
	a.variable.Insert(freed)
}

// Bytes returns the payload at the provided address as a byte slice. The slice covers the
// block's whole payload, which may be larger than the size that was requested.
func (a *Allocator) Bytes(payload segment.Address) []byte {
	found := a.lookup(payload)

	// The free flag is guarded by the lock of the structure the block would be freed into
	classMutex := &a.variableMutex
	if isFixedSize(found.size) {
		classMutex = &a.fixedMutex
	}
	classMutex.Lock()
	free := found.free
	classMutex.Unlock()

	if free {
		panic(errors.AssertionFailedf("address %#x refers to a free block", uintptr(payload)))
	}
	return found.payloadBytes()
}

// BlockSize returns the full size, header included, of the block at payload
func (a *Allocator) BlockSize(payload segment.Address) int {
	return a.lookup(payload).size
}

func (a *Allocator) lockAll() {
	a.fixedMutex.Lock()
	a.variableMutex.Lock()
	a.segmentMutex.Lock()
	a.blocks.mutex.RLock()
}

func (a *Allocator) unlockAll() {
	a.blocks.mutex.RUnlock()
	a.segmentMutex.Unlock()
	a.variableMutex.Unlock()
	a.fixedMutex.Unlock()
}

// Destroy returns every segment to the provider. Every address handed out by this allocator
// becomes invalid.
func (a *Allocator) Destroy() error {
	if a.destroyed.Swap(true) {
		return errors.New("attempted to destroy an allocator twice")
	}

	a.lockAll()
	var liveCount, liveBytes int
	a.blocks.visit(func(b *block) bool {
		if !b.free {
			liveCount++
			liveBytes += b.size
		}
		return true
	})
	a.blocks.mutex.RUnlock()

	if liveCount > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelInfo, "[UNRELEASED MEMORY] allocator destroyed with live blocks",
			slog.String("Category", a.category.String()),
			slog.Int("Blocks", liveCount),
			slog.String("Bytes", humanize.IBytes(uint64(liveBytes))))
	}

	var err error
	for _, seg := range a.segments {
		err = errors.CombineErrors(err, a.provider.Release(seg))
	}

	a.segments = nil
	a.buckets.Clear()
	a.variable.Clear()
	a.blocks.Clear()

	a.segmentMutex.Unlock()
	a.variableMutex.Unlock()
	a.fixedMutex.Unlock()

	return err
}
