package util

import "sync"

const keyedMutexStripes = 64

// KeyedMutex provides striped per-key locking. Two keys may share a stripe;
// that only widens the critical section, never narrows it.
type KeyedMutex struct {
	stripes [keyedMutexStripes]sync.Mutex
}

// NewKeyedMutex returns a ready-to-use striped mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{}
}

// Lock acquires the stripe for key and returns its unlock func.
func (m *KeyedMutex) Lock(key string) func() {
	idx := stripeIndex(key)
	m.stripes[idx].Lock()
	return m.stripes[idx].Unlock
}

func stripeIndex(key string) int {
	// FNV-1a, inlined to avoid allocating a hash.Hash per lock.
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % keyedMutexStripes)
}
