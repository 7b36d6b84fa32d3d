package pam_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/pam"
	"github.com/vkngwrapper/arsenal/pam/memutils"
	"github.com/vkngwrapper/arsenal/pam/segment"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

type liveAllocation struct {
	address segment.Address
	fill    byte
}

func randomAllocationSize(rng *rand.Rand) int {
	switch rng.Intn(4) {
	case 0:
		return rng.Intn(128)
	case 1:
		// A handful of repeated sizes builds up same-size chains
		return []int{256, 512, 1000, 4096}[rng.Intn(4)]
	default:
		return 128 + rng.Intn(8192)
	}
}

func fillPayload(allocator *pam.Allocator, address segment.Address, fill byte) {
	payload := allocator.Bytes(address)
	for i := range payload {
		payload[i] = fill
	}
}

func checkPayload(allocator *pam.Allocator, allocation liveAllocation) error {
	payload := allocator.Bytes(allocation.address)
	if bytes.Count(payload, []byte{allocation.fill}) != len(payload) {
		return errors.Newf("payload at %#x was overwritten", uintptr(allocation.address))
	}
	return nil
}

func TestAllocatorRandomizedOperations(t *testing.T) {
	for _, mode := range allocatorModes {
		t.Run(mode.name, func(t *testing.T) {
			allocator := newTestAllocator(t, newCountingProvider(), mode.flags, 64<<10)
			rng := rand.New(rand.NewSource(1))

			var live []liveAllocation
			for i := 0; i < 5000; i++ {
				if len(live) > 0 && rng.Intn(3) == 0 {
					index := rng.Intn(len(live))
					require.NoError(t, checkPayload(allocator, live[index]))
					allocator.Deallocate(live[index].address)

					live[index] = live[len(live)-1]
					live = live[:len(live)-1]
				} else {
					address, err := allocator.Allocate(randomAllocationSize(rng))
					require.NoError(t, err)

					allocation := liveAllocation{address: address, fill: byte(i)}
					fillPayload(allocator, address, allocation.fill)
					live = append(live, allocation)
				}

				if i%250 == 0 {
					require.NoError(t, allocator.Validate())
				}
			}
			require.NoError(t, allocator.Validate())

			var stats memutils.Statistics
			allocator.AddStatistics(&stats)
			require.Equal(t, len(live), stats.BlockCount)

			for _, allocation := range live {
				require.NoError(t, checkPayload(allocator, allocation))
				allocator.Deallocate(allocation.address)
			}
			require.NoError(t, allocator.Validate())

			stats.Clear()
			allocator.AddStatistics(&stats)
			require.Equal(t, 0, stats.BlockCount)
			require.Equal(t, 0, stats.BlockBytes)

			require.NoError(t, allocator.Destroy())
		})
	}
}

func TestAllocatorSteadyStateDoesNotGrow(t *testing.T) {
	for _, mode := range allocatorModes {
		t.Run(mode.name, func(t *testing.T) {
			allocator := newTestAllocator(t, newCountingProvider(), mode.flags, 64<<10)

			sizes := []int{16, 24, 100, 256, 1000, 4096, 300, 8}
			addresses := make([]segment.Address, len(sizes))

			for round := 0; round < 100; round++ {
				for i, size := range sizes {
					address, err := allocator.Allocate(size)
					require.NoError(t, err)
					addresses[i] = address
				}
				for _, address := range addresses {
					allocator.Deallocate(address)
				}
			}

			require.Equal(t, 1, allocator.SegmentRequests())
			require.NoError(t, allocator.Validate())
			require.NoError(t, allocator.Destroy())
		})
	}
}

func TestAllocatorConcurrentWorkers(t *testing.T) {
	for _, mode := range allocatorModes {
		t.Run(mode.name, func(t *testing.T) {
			allocator := newTestAllocator(t, newCountingProvider(), mode.flags, 256<<10)

			var group errgroup.Group
			for worker := 0; worker < 8; worker++ {
				seed := int64(worker)
				group.Go(func() error {
					rng := rand.New(rand.NewSource(seed))

					var live []liveAllocation
					for i := 0; i < 2000; i++ {
						if len(live) > 0 && rng.Intn(2) == 0 {
							index := rng.Intn(len(live))
							err := checkPayload(allocator, live[index])
							if err != nil {
								return err
							}
							allocator.Deallocate(live[index].address)

							live[index] = live[len(live)-1]
							live = live[:len(live)-1]
							continue
						}

						address, err := allocator.Allocate(randomAllocationSize(rng))
						if err != nil {
							return err
						}
						allocation := liveAllocation{address: address, fill: byte(seed*31 + int64(i))}
						fillPayload(allocator, address, allocation.fill)
						live = append(live, allocation)
					}

					for _, allocation := range live {
						err := checkPayload(allocator, allocation)
						if err != nil {
							return err
						}
						allocator.Deallocate(allocation.address)
					}
					return nil
				})
			}

			require.NoError(t, group.Wait())
			require.NoError(t, allocator.Validate())

			var stats memutils.Statistics
			allocator.AddStatistics(&stats)
			require.Equal(t, 0, stats.BlockCount)

			require.NoError(t, allocator.Destroy())
		})
	}
}

func TestAllocatorValidateDuringConcurrentWork(t *testing.T) {
	for _, mode := range allocatorModes {
		t.Run(mode.name, func(t *testing.T) {
			allocator := newTestAllocator(t, newCountingProvider(), mode.flags, 16<<10)

			var stopped atomic.Bool
			var validator errgroup.Group
			validator.Go(func() error {
				for !stopped.Load() {
					err := allocator.Validate()
					if err != nil {
						return err
					}
				}
				return nil
			})

			var workers errgroup.Group
			for worker := 0; worker < 8; worker++ {
				seed := int64(worker)
				workers.Go(func() error {
					rng := rand.New(rand.NewSource(seed))

					for i := 0; i < 1000; i++ {
						// Reusing a block a little too large splits off a remainder that is
						// sometimes small enough for a fixed bucket
						large, err := allocator.Allocate(128 + pam.PointerWidth*rng.Intn(40))
						if err != nil {
							return err
						}
						allocator.Deallocate(large)

						first, err := allocator.Allocate(128 + pam.PointerWidth*rng.Intn(8))
						if err != nil {
							return err
						}
						second, err := allocator.Allocate(randomAllocationSize(rng))
						if err != nil {
							return err
						}
						allocator.Deallocate(first)
						allocator.Deallocate(second)
					}
					return nil
				})
			}

			workErr := workers.Wait()
			stopped.Store(true)
			require.NoError(t, validator.Wait())
			require.NoError(t, workErr)

			require.NoError(t, allocator.Validate())
			require.NoError(t, allocator.Destroy())
		})
	}
}

func TestAllocatorExternallySynchronized(t *testing.T) {
	allocator := newTestAllocator(t, newCountingProvider(),
		pam.AllocatorCreateExternallySynchronized|pam.AllocatorCreateIndexedFreeList, 64<<10)

	var addresses []segment.Address
	for i := 0; i < 200; i++ {
		address, err := allocator.Allocate(i * 40)
		require.NoError(t, err)
		addresses = append(addresses, address)
	}
	for _, address := range addresses {
		allocator.Deallocate(address)
	}

	require.NoError(t, allocator.Validate())
	require.NoError(t, allocator.Destroy())
}
