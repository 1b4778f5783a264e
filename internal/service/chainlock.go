package service

import "sync"

// chainLocks serializes mutations per version-chain root so two
// concurrent decisions on the same chain cannot interleave their status
// recomputation. Reads stay lock-free. Entries are small and bounded by
// the number of distinct chains mutated in-process.
type chainLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChainLocks() *chainLocks {
	return &chainLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the chain root and returns the unlock func.
func (c *chainLocks) acquire(rootID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[rootID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[rootID] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
