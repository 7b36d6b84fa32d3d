//go:build unix

package segment

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func osPageSize() int {
	return unix.Getpagesize()
}

func osMapAnon(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func osUnmap(data []byte) error {
	return unix.Munmap(data)
}

// osDisclaim asks the kernel to drop the pages backing data. The mapping stays valid and
// reads back as zero.
func osDisclaim(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Madvise(data, unix.MADV_DONTNEED)
}

func isUnsupportedAdvice(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EOPNOTSUPP)
}
