package rdt

import (
	"math/rand"
	"sync"
)

// wrappingCounter is a concurrency-safe counter over [1, MaxSeqNum] that
// wraps back to 1 after reaching the maximum. It backs seq, which is
// process-global per Transport instance (shared across every message sent
// from it); comm_ids are picked by the callers of Send, not by this counter.
type wrappingCounter struct {
	mu    sync.Mutex
	value int64
}

// newWrappingCounter seeds the counter with a value drawn uniformly from
// [1, MaxSeqNum].
func newWrappingCounter() *wrappingCounter {
	return &wrappingCounter{value: int64(1 + rand.Intn(MaxSeqNum))}
}

// next returns the current value and advances the counter, wrapping to 1
// after MaxSeqNum.
func (c *wrappingCounter) next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.value
	if c.value == MaxSeqNum {
		c.value = 1
	} else {
		c.value++
	}
	return v
}

// peek returns the current value without advancing the counter.
func (c *wrappingCounter) peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
