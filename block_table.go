package pam

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/arsenal/pam/internal/utils"
	"github.com/vkngwrapper/arsenal/pam/segment"
)

// blockTable maps payload addresses to block records. Its lock is a leaf: nothing else is ever
// locked while it is held.
type blockTable struct {
	mutex  utils.OptionalRWMutex
	blocks *swiss.Map[segment.Address, *block]
}

func (t *blockTable) Init(useMutex bool) {
	t.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
	t.blocks = swiss.NewMap[segment.Address, *block](1024)
}

func (t *blockTable) Register(b *block) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.blocks.Put(b.payload(), b)
}

func (t *blockTable) Lookup(payload segment.Address) (*block, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.blocks.Get(payload)
}

func (t *blockTable) Count() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.blocks.Count()
}

// visit calls visitor for every record until it returns false. The caller must hold the
// table's read lock.
func (t *blockTable) visit(visitor func(b *block) bool) {
	t.blocks.Iter(func(_ segment.Address, b *block) bool {
		return !visitor(b)
	})
}

func (t *blockTable) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.blocks.Clear()
}
