package segment_test

import (
	"os"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"github.com/vkngwrapper/arsenal/pam/segment"
	"go.uber.org/goleak"
	"golang.org/x/exp/slog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// heapProvider backs segments with ordinary slices and counts traffic
type heapProvider struct {
	mutex    sync.Mutex
	requests []int
	released []*segment.Segment
	live     map[*segment.Segment]struct{}
	limit    int
}

func newHeapProvider() *heapProvider {
	return &heapProvider{live: make(map[*segment.Segment]struct{})}
}

func (p *heapProvider) Request(size int) (*segment.Segment, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.limit > 0 && len(p.live) >= p.limit {
		return nil, errors.Wrap(memutils.ErrOutOfMemory, "heap provider exhausted")
	}

	p.requests = append(p.requests, size)
	seg := segment.NewSegment(make([]byte, size), segment.CategoryPersistent)
	p.live[seg] = struct{}{}
	return seg, nil
}

func (p *heapProvider) Release(seg *segment.Segment) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, ok := p.live[seg]; !ok {
		return errors.New("released a segment the heap provider does not own")
	}
	delete(p.live, seg)
	p.released = append(p.released, seg)
	return nil
}

func (p *heapProvider) RequestCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.requests)
}

func (p *heapProvider) LiveCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return len(p.live)
}
