package envsync

import "sync"

// writeQueue serializes persistence writes per record. It replaces the
// fixed-delay deferred write of the previous implementation: a second pass
// blocks on the per-record slot instead of racing the write still in flight.
type writeQueue struct {
	mu    sync.Mutex
	slots map[string]*queueSlot
}

type queueSlot struct {
	mu   sync.Mutex
	refs int
}

func newWriteQueue() *writeQueue {
	return &writeQueue{slots: make(map[string]*queueSlot)}
}

// Do runs fn while holding the per-key slot. Calls for the same key run one
// at a time in arrival order; calls for different keys do not contend.
func (q *writeQueue) Do(key string, fn func() error) error {
	q.mu.Lock()
	slot, ok := q.slots[key]
	if !ok {
		slot = &queueSlot{}
		q.slots[key] = slot
	}
	slot.refs++
	q.mu.Unlock()

	slot.mu.Lock()
	err := fn()
	slot.mu.Unlock()

	q.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(q.slots, key)
	}
	q.mu.Unlock()

	return err
}
