package segment

//go:generate mockgen -package mocks -destination mocks/provider.go github.com/vkngwrapper/arsenal/pam/segment Provider

// Provider hands out segments and takes them back. A segment returned by Request is owned by
// the caller until it is passed to Release on the same provider.
type Provider interface {
	// Request returns a fresh segment of at least size bytes whose cursor sits at its base.
	// Implementations report exhaustion with an error wrapping memutils.ErrOutOfMemory or one of
	// the more specific memutils sentinels.
	Request(size int) (*Segment, error)
	// Release returns a segment to the provider. The segment must not be used afterwards.
	Release(seg *Segment) error
}

// Disclaimer is implemented by providers that can tell the operating system that the contents
// of a segment are no longer needed, without giving up the mapping
type Disclaimer interface {
	Disclaim(seg *Segment) error
}
