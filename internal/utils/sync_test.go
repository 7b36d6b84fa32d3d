package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOptionalMutexDisabledIsReentrant(t *testing.T) {
	m := OptionalMutex{UseMutex: false}
	m.Lock()
	m.Lock()
	m.Unlock()
	m.Unlock()

	rw := OptionalRWMutex{UseMutex: false}
	rw.Lock()
	rw.RLock()
	rw.RUnlock()
	rw.Unlock()
}

func TestOptionalMutexEnabledLocks(t *testing.T) {
	m := OptionalMutex{UseMutex: true}
	m.Lock()
	require.False(t, m.Mutex.TryLock())
	m.Unlock()
	require.True(t, m.Mutex.TryLock())
	m.Mutex.Unlock()

	rw := OptionalRWMutex{UseMutex: true}
	rw.RLock()
	require.False(t, rw.Mutex.TryLock())
	require.True(t, rw.Mutex.TryRLock())
	rw.Mutex.RUnlock()
	rw.RUnlock()
}
