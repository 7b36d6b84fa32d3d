package segment

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"go.uber.org/atomic"
	"golang.org/x/exp/slog"
)

var (
	pageSizeOnce sync.Once
	pageSize     int
)

// PageSize returns the host page size
func PageSize() int {
	pageSizeOnce.Do(func() {
		pageSize = osPageSize()
		memutils.DebugCheckPow2(pageSize, "host page size")
	})
	return pageSize
}

// PageAlign rounds size up to a multiple of the host page size
func PageAlign(size int) int {
	return memutils.AlignUp(size, PageSize())
}

// OSProviderOptions configures an OSProvider. The zero value maps persistent memory without any
// low-memory checks.
type OSProviderOptions struct {
	// Category tags every segment produced by the provider
	Category Category

	// SafetyReserve is the number of bytes of physical memory that must remain available for a
	// scratch request to be honored. Zero disables the check.
	SafetyReserve uint64
	// LowMemoryQuery reports available physical memory. When nil, AvailablePhysicalMemory is used.
	LowMemoryQuery LowMemoryQuery
	// LowMemory is set whenever a scratch request is refused for lack of physical memory, so that a
	// collaborator can reduce concurrency. It may be nil.
	LowMemory *atomic.Bool
}

// OSProvider is the leaf Provider. Every Request maps fresh zeroed memory directly from the
// operating system and every Release unmaps it again.
type OSProvider struct {
	logger  *slog.Logger
	options OSProviderOptions

	disclaimSupported *atomic.Bool
	mappedBytes       *atomic.Int64
	mappings          *atomic.Int64
}

var _ Provider = &OSProvider{}
var _ Disclaimer = &OSProvider{}

func NewOSProvider(logger *slog.Logger, options OSProviderOptions) *OSProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if options.LowMemoryQuery == nil {
		options.LowMemoryQuery = AvailablePhysicalMemory
	}

	return &OSProvider{
		logger:            logger,
		options:           options,
		disclaimSupported: atomic.NewBool(true),
		mappedBytes:       atomic.NewInt64(0),
		mappings:          atomic.NewInt64(0),
	}
}

// MappedBytes is the number of bytes currently mapped through this provider
func (p *OSProvider) MappedBytes() int { return int(p.mappedBytes.Load()) }

// Mappings is the number of segments currently mapped through this provider
func (p *OSProvider) Mappings() int { return int(p.mappings.Load()) }

// DisclaimSupported reports whether Disclaim still talks to the operating system
func (p *OSProvider) DisclaimSupported() bool { return p.disclaimSupported.Load() }

func (p *OSProvider) Request(size int) (*Segment, error) {
	if size < 1 {
		return nil, errors.Newf("invalid segment size: %d", size)
	}
	if size > math.MaxInt-PageSize() {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "a segment of %d bytes can never be mapped", size)
	}

	alignedSize := PageAlign(size)

	if p.options.Category == CategoryScratch && p.options.SafetyReserve > 0 {
		err := p.checkPhysicalMemory(alignedSize)
		if err != nil {
			return nil, err
		}
	}

	data, err := osMapAnon(alignedSize)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "mapping %d bytes of %s memory", alignedSize, p.options.Category), memutils.ErrOutOfMemory)
	}

	p.mappedBytes.Add(int64(alignedSize))
	p.mappings.Inc()

	p.logger.Debug("OSProvider::Request",
		slog.String("Size", humanize.IBytes(uint64(alignedSize))),
		slog.String("Category", p.options.Category.String()))

	return newSegment(data, p.options.Category), nil
}

func (p *OSProvider) checkPhysicalMemory(size int) error {
	available, err := p.options.LowMemoryQuery()
	if err != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "could not query physical memory",
			slog.Any("error", err))
		return nil
	}

	if available < p.options.SafetyReserve+uint64(size) {
		if p.options.LowMemory != nil {
			p.options.LowMemory.Store(true)
		}

		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "refusing scratch segment: physical memory is low",
			slog.String("Available", humanize.IBytes(available)),
			slog.String("Reserve", humanize.IBytes(p.options.SafetyReserve)),
			slog.String("Requested", humanize.IBytes(uint64(size))))

		return errors.Wrapf(memutils.ErrLowPhysicalMemory, "%s available, %s reserved, %s requested",
			humanize.IBytes(available), humanize.IBytes(p.options.SafetyReserve), humanize.IBytes(uint64(size)))
	}

	return nil
}

func (p *OSProvider) Release(seg *Segment) error {
	if seg == nil {
		panic("attempted to release a nil segment")
	}

	size := seg.Size()
	err := osUnmap(seg.data)
	if err != nil {
		return memutils.DebugFatal(errors.Wrapf(err, "unmapping %s", seg))
	}

	p.mappedBytes.Sub(int64(size))
	p.mappings.Dec()

	p.logger.Debug("OSProvider::Release", slog.String("Size", humanize.IBytes(uint64(size))))

	seg.data = nil
	return nil
}

// Disclaim drops the physical pages behind seg while keeping it mapped. If the platform turns
// out not to support this, disclaiming is switched off for the rest of the provider's life and
// nil is returned.
func (p *OSProvider) Disclaim(seg *Segment) error {
	if !p.disclaimSupported.Load() {
		return nil
	}

	err := osDisclaim(seg.data)
	if err == nil {
		return nil
	}

	if isUnsupportedAdvice(err) {
		if p.disclaimSupported.CompareAndSwap(true, false) {
			p.logger.LogAttrs(context.Background(), slog.LevelInfo, "disclaiming memory is unsupported; disabling",
				slog.Any("error", err))
		}
		return nil
	}

	return errors.Wrapf(err, "disclaiming %s", seg)
}
