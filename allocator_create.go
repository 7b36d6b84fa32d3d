package pam

import (
	"math/bits"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/vkngwrapper/arsenal/pam/internal/utils"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"github.com/vkngwrapper/arsenal/pam/segment"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateIndexedFreeList replaces the sorted variable-size free list with an
	// interval-indexed one. Each power-of-two size interval keeps a pointer to its first and last
	// node, and blocks of equal size share a single node, so finding a fit no longer means walking
	// every smaller free block.
	AllocatorCreateIndexedFreeList
)

var allocatorCreateFlagsMapping = map[CreateFlags]string{
	AllocatorCreateExternallySynchronized: "AllocatorCreateExternallySynchronized",
	AllocatorCreateIndexedFreeList:        "AllocatorCreateIndexedFreeList",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	remaining := uint32(f)
	for remaining != 0 {
		bit := CreateFlags(1 << bits.TrailingZeros32(remaining))
		remaining &^= uint32(bit)

		name, ok := allocatorCreateFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// DefaultMinSegmentSize is the smallest segment requested from the provider when none is
	// provided via CreateOptions. It is equal to 1Mb.
	DefaultMinSegmentSize int = 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// MinSegmentSize is the smallest segment the allocator will request from its provider. Larger
	// segments are requested only for allocations that would not fit otherwise.
	MinSegmentSize int
	// Category labels the memory this allocator manages in logs, statistics, and metrics
	Category segment.Category
}

// New creates a new Allocator
//
// provider - The segment provider that memory will be requested from. The allocator returns every
// segment it received when it is destroyed.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, provider segment.Provider, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		return nil, errors.New("a persistent allocator requires a segment provider")
	}

	minSegmentSize := options.MinSegmentSize
	if minSegmentSize == 0 {
		minSegmentSize = DefaultMinSegmentSize
	}
	if minSegmentSize < MinVariableBlockSize {
		return nil, errors.Newf("minimum segment size %d is smaller than the smallest variable block (%d)",
			minSegmentSize, MinVariableBlockSize)
	}
	memutils.DebugCheckPow2(PointerWidth, "pointer width")

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		logger:         logger,
		provider:       provider,
		createFlags:    options.Flags,
		category:       options.Category,
		minSegmentSize: minSegmentSize,

		fixedMutex:    utils.OptionalMutex{UseMutex: useMutex},
		variableMutex: utils.OptionalMutex{UseMutex: useMutex},
		segmentMutex:  utils.OptionalMutex{UseMutex: useMutex},
	}
	allocator.blocks.Init(useMutex)

	if options.Flags&AllocatorCreateIndexedFreeList != 0 {
		allocator.variable = newIndexedFreeList()
	} else {
		allocator.variable = &sortedFreeList{}
	}

	logger.Debug("Allocator::New",
		slog.String("Category", options.Category.String()),
		slog.String("Flags", options.Flags.String()),
		slog.String("MinSegmentSize", humanize.IBytes(uint64(minSegmentSize))))

	return allocator, nil
}
