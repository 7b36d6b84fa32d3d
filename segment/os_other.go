//go:build !unix

package segment

import "github.com/cockroachdb/errors"

const fallbackPageSize = 4096

var errDisclaimUnsupported = errors.New("disclaiming memory is not supported on this platform")

func osPageSize() int {
	return fallbackPageSize
}

// Without anonymous mappings the collector's heap backs segments. make returns zeroed memory
// that is never relocated, which is all a segment needs.
func osMapAnon(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func osUnmap(data []byte) error {
	return nil
}

func osDisclaim(data []byte) error {
	return errDisclaimUnsupported
}

func isUnsupportedAdvice(err error) bool {
	return errors.Is(err, errDisclaimUnsupported)
}
