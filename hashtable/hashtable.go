// Package hashtable implements a generic bucketed hash table with a
// lock-free Get, used by the tcb package to index live objects
// by integer id without holding a pointer across a suspension point --
// a lookup by id revalidates the object is still live instead of
// dereferencing a stale pointer.
package hashtable

import (
	"sync"
	"sync/atomic"
)

type elem_t[K comparable, V any] struct {
	key   K
	value V
	next  atomic.Pointer[elem_t[K, V]]
}

type bucket_t[K comparable, V any] struct {
	mu    sync.Mutex
	first atomic.Pointer[elem_t[K, V]]
}

// Hashtable_t maps keys to values, protected internally by per-bucket
// locks; Get never takes a lock.
type Hashtable_t[K comparable, V any] struct {
	table []*bucket_t[K, V]
	hash  func(K) uint32
}

// New allocates a Hashtable_t with size buckets, using hash to place keys.
func New[K comparable, V any](size int, hash func(K) uint32) *Hashtable_t[K, V] {
	ht := &Hashtable_t[K, V]{
		table: make([]*bucket_t[K, V], size),
		hash:  hash,
	}
	for i := range ht.table {
		ht.table[i] = &bucket_t[K, V]{}
	}
	return ht
}

func (ht *Hashtable_t[K, V]) bucket(key K) *bucket_t[K, V] {
	return ht.table[ht.hash(key)%uint32(len(ht.table))]
}

// Get looks up key without taking any lock.
func (ht *Hashtable_t[K, V]) Get(key K) (V, bool) {
	b := ht.bucket(key)
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts key/value, returning false without modifying the table if
// key already existed.
func (ht *Hashtable_t[K, V]) Set(key K, value V) bool {
	b := ht.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			return false
		}
	}
	n := &elem_t[K, V]{key: key, value: value}
	n.next.Store(b.first.Load())
	b.first.Store(n)
	return true
}

// Del removes key, returning false if it was not present.
func (ht *Hashtable_t[K, V]) Del(key K) bool {
	b := ht.bucket(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	var prev *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.key == key {
			if prev == nil {
				b.first.Store(e.next.Load())
			} else {
				prev.next.Store(e.next.Load())
			}
			return true
		}
		prev = e
	}
	return false
}

// Len returns the number of elements currently stored. It takes every
// bucket lock in turn and is intended for diagnostics, not hot paths.
func (ht *Hashtable_t[K, V]) Len() int {
	n := 0
	for _, b := range ht.table {
		b.mu.Lock()
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			n++
		}
		b.mu.Unlock()
	}
	return n
}

// HashUint64 is the default hash function for uint64-keyed tables such as
// the tid index.
func HashUint64(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	return uint32(k)
}
