package segment

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/arsenal/pam/internal/utils"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"golang.org/x/exp/slog"
)

const (
	// DefaultSegmentSize is the sub-segment size a SystemProvider uses when none is configured
	DefaultSegmentSize int = 1 << 20
	// DefaultSystemSegmentSize is the system segment size a SystemProvider uses when none is configured
	DefaultSystemSegmentSize int = 1 << 20
)

// SystemProviderOptions configures a SystemProvider. Zero values select the defaults.
type SystemProviderOptions struct {
	// DefaultSegmentSize is the size of the sub-segments carved out of system segments. Requests are
	// rounded up to a multiple of it, and only sub-segments of exactly this size are recycled.
	DefaultSegmentSize int
	// SystemSegmentSize is the size requested from the backing provider when the current system
	// segment runs out of room. It is raised to DefaultSegmentSize if smaller.
	SystemSegmentSize int
	// AllocationLimit caps the number of bytes carved into sub-segments. Zero means no limit.
	AllocationLimit int
	// Disclaim asks the backing provider, if it is a Disclaimer, to drop the pages of recycled
	// sub-segments.
	Disclaim bool
	// ExternallySynchronized drops the internal mutex. The consumer must serialize all calls.
	ExternallySynchronized bool
}

type carvedSegment struct {
	segment *Segment
	system  *Segment
	// dedicated sub-segments own their whole system segment
	dedicated bool
	free      bool
	nextFree  *carvedSegment
}

// SystemProvider decorates a Provider by acquiring large system segments from it and slicing
// them into sub-segments. Released sub-segments of the default size go on a free list and are
// handed out again before any new memory is carved. Oversized requests that do not fit the
// current system segment get a system segment of their own, which is returned to the backing
// provider as soon as the oversized sub-segment is released.
type SystemProvider struct {
	logger     *slog.Logger
	backing    Provider
	disclaimer Disclaimer

	mutex utils.OptionalMutex

	defaultSize     int
	systemSize      int
	allocationLimit int

	systemBytes    int
	carvedBytes    int
	systemSegments []*Segment
	carved         *swiss.Map[Address, *carvedSegment]
	freeList       *carvedSegment
	freeCount      int
	current        *Segment
}

var _ Provider = &SystemProvider{}

func NewSystemProvider(logger *slog.Logger, backing Provider, options SystemProviderOptions) (*SystemProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backing == nil {
		return nil, errors.New("a system segment provider requires a backing provider")
	}

	defaultSize := options.DefaultSegmentSize
	if defaultSize == 0 {
		defaultSize = DefaultSegmentSize
	}
	if defaultSize < 0 {
		return nil, errors.Newf("invalid default segment size: %d", defaultSize)
	}

	systemSize := options.SystemSegmentSize
	if systemSize == 0 {
		systemSize = DefaultSystemSegmentSize
	}
	if systemSize < defaultSize {
		systemSize = defaultSize
	}

	limit := options.AllocationLimit
	if limit <= 0 {
		limit = math.MaxInt
	}

	provider := &SystemProvider{
		logger:          logger,
		backing:         backing,
		mutex:           utils.OptionalMutex{UseMutex: !options.ExternallySynchronized},
		defaultSize:     defaultSize,
		systemSize:      systemSize,
		allocationLimit: limit,
		carved:          swiss.NewMap[Address, *carvedSegment](64),
	}

	if options.Disclaim {
		disclaimer, ok := backing.(Disclaimer)
		if ok {
			provider.disclaimer = disclaimer
		}
	}

	return provider, nil
}

// DefaultSize is the size of recyclable sub-segments
func (p *SystemProvider) DefaultSize() int { return p.defaultSize }

// SystemSegmentSize is the minimum size of the system segments requested from the backing provider
func (p *SystemProvider) SystemSegmentSize() int { return p.systemSize }

// SystemBytes is the number of bytes currently held in system segments
func (p *SystemProvider) SystemBytes() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.systemBytes
}

// CarvedBytes is the number of bytes carved into sub-segments, whether they are handed out or
// waiting on the free list
func (p *SystemProvider) CarvedBytes() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.carvedBytes
}

func (p *SystemProvider) AllocationLimit() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.allocationLimit
}

// SetAllocationLimit changes the carved-bytes ceiling. Zero or a negative limit removes it.
// Lowering the limit below CarvedBytes does not reclaim anything; it only refuses new carving.
func (p *SystemProvider) SetAllocationLimit(limit int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if limit <= 0 {
		limit = math.MaxInt
	}
	p.allocationLimit = limit
}

// FreeListLength is the number of default-size sub-segments waiting to be recycled
func (p *SystemProvider) FreeListLength() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.freeCount
}

// SystemSegmentCount is the number of system segments held from the backing provider
func (p *SystemProvider) SystemSegmentCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.systemSegments)
}

// CarvedSegmentCount is the number of tracked sub-segments, including those on the free list
func (p *SystemProvider) CarvedSegmentCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.carved.Count()
}

func (p *SystemProvider) Request(requiredSize int) (*Segment, error) {
	if requiredSize < 1 {
		return nil, errors.Newf("invalid segment size: %d", requiredSize)
	}
	if requiredSize > math.MaxInt-p.defaultSize {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "a segment of %d bytes can never be carved", requiredSize)
	}

	roundedSize := memutils.RoundUp(requiredSize, p.defaultSize)

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.freeList != nil && roundedSize <= p.defaultSize {
		entry := p.freeList
		p.freeList = entry.nextFree
		p.freeCount--

		entry.nextFree = nil
		entry.free = false
		entry.segment.Reset()
		return entry.segment, nil
	}

	if roundedSize > p.allocationLimit-p.carvedBytes {
		return nil, errors.Wrapf(memutils.ErrAllocationLimit, "carving %s would exceed the limit of %s (%s already carved)",
			humanize.IBytes(uint64(roundedSize)), humanize.IBytes(uint64(p.allocationLimit)), humanize.IBytes(uint64(p.carvedBytes)))
	}

	if p.current != nil && p.current.Remaining() >= roundedSize {
		return p.carve(p.current, roundedSize, false), nil
	}

	system, err := p.backing.Request(max(roundedSize, p.systemSize))
	if err != nil {
		return nil, err
	}

	p.systemSegments = append(p.systemSegments, system)
	p.systemBytes += system.Size()

	p.logger.Debug("SystemProvider::Request acquired system segment",
		slog.String("Size", humanize.IBytes(uint64(system.Size()))),
		slog.Int("SystemSegments", len(p.systemSegments)))

	if roundedSize > p.defaultSize {
		return p.carve(system, roundedSize, true), nil
	}

	// Only reached once the outgoing segment has less than a default size left, so this carves
	// nothing while every request is rounded to default sizes. The tail is abandoned.
	if p.current != nil {
		for p.current.Remaining() >= p.defaultSize {
			p.pushFree(p.carve(p.current, p.defaultSize, false))
		}
	}
	p.current = system

	return p.carve(system, roundedSize, false), nil
}

func (p *SystemProvider) carve(system *Segment, size int, dedicated bool) *Segment {
	addr, ok := system.Allocate(size)
	if !ok {
		panic("attempted to carve a sub-segment larger than its system segment's remaining room")
	}

	sub := system.subSegment(system.Offset(addr), size)
	p.carved.Put(sub.Base(), &carvedSegment{
		segment:   sub,
		system:    system,
		dedicated: dedicated,
	})
	p.carvedBytes += size

	return sub
}

func (p *SystemProvider) pushFree(seg *Segment) {
	entry, ok := p.carved.Get(seg.Base())
	if !ok {
		panic("attempted to recycle a segment that was not carved by this provider")
	}

	entry.free = true
	entry.nextFree = p.freeList
	p.freeList = entry
	p.freeCount++
}

func (p *SystemProvider) Release(seg *Segment) error {
	if seg == nil {
		panic("attempted to release a nil segment")
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, ok := p.carved.Get(seg.Base())
	if !ok || entry.segment != seg {
		panic(errors.AssertionFailedf("attempted to release %s, which was not provided by this system segment provider", seg))
	}
	if entry.free {
		panic(errors.AssertionFailedf("attempted to release %s, which is already on the free list", seg))
	}

	switch {
	case seg.Size() == p.defaultSize:
		if p.disclaimer != nil {
			err := p.disclaimer.Disclaim(seg)
			if err != nil {
				p.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to disclaim recycled segment",
					slog.Any("error", err))
			}
		}
		p.pushFree(seg)
		return nil
	case entry.dedicated:
		p.carved.Delete(seg.Base())
		p.carvedBytes -= seg.Size()
		return p.releaseSystemSegment(entry.system)
	default:
		// Not recyclable and sharing its system segment with others: the range stays carved
		// until Close.
		p.carved.Delete(seg.Base())
		p.logger.Debug("SystemProvider::Release dropped non-recyclable segment",
			slog.String("Size", humanize.IBytes(uint64(seg.Size()))))
		return nil
	}
}

func (p *SystemProvider) releaseSystemSegment(system *Segment) error {
	for index, candidate := range p.systemSegments {
		if candidate == system {
			p.systemSegments = append(p.systemSegments[:index], p.systemSegments[index+1:]...)
			p.systemBytes -= system.Size()
			return p.backing.Release(system)
		}
	}

	panic("attempted to release a system segment that does not belong to this provider")
}

// Close returns every system segment to the backing provider. Sub-segments handed out by this
// provider become invalid.
func (p *SystemProvider) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var err error
	for _, system := range p.systemSegments {
		err = errors.CombineErrors(err, p.backing.Release(system))
	}

	p.systemSegments = nil
	p.systemBytes = 0
	p.carvedBytes = 0
	p.carved.Clear()
	p.freeList = nil
	p.freeCount = 0
	p.current = nil

	return err
}
