package memutils

import "github.com/cockroachdb/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")

	// ErrOutOfMemory is returned when the operating system, or a provider standing in for it, refuses
	// to hand out more memory.
	ErrOutOfMemory error = errors.New("out of memory")

	// ErrAllocationLimit is returned by a segment.SystemProvider when carving a new sub-segment would take
	// its carved bytes past the configured allocation limit. The operating system is never consulted.
	ErrAllocationLimit error = errors.New("allocation limit exceeded")

	// ErrLowPhysicalMemory is returned for scratch segment requests made while free physical memory
	// is below the configured safety reserve
	ErrLowPhysicalMemory error = errors.New("physical memory below safety reserve")
)
