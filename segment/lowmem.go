package segment

import (
	"github.com/shirou/gopsutil/v4/mem"
)

// LowMemoryQuery reports how many bytes of physical memory are currently available
type LowMemoryQuery func() (uint64, error)

// AvailablePhysicalMemory is the default LowMemoryQuery. It reads the host's available memory,
// which includes reclaimable caches.
func AvailablePhysicalMemory() (uint64, error) {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return stat.Available, nil
}
