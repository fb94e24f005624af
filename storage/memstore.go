// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage provides the key-value persistence adapter the DAG
// store, reputation ledger and equivocation guard write through. Disk
// engine selection itself (pebble, leveldb, memdb) is an external
// collaborator concern; this package only fixes the key-prefix layout
// and ships an in-memory implementation suitable for tests and for the
// single-process CLI demo in cmd/validator.
package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/luxfi/dagconsensus/iface"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Key prefixes for the persisted layout.
const (
	PrefixCert         = "cert/"
	PrefixByAuthor      = "by_author/"
	PrefixParents       = "parents/"
	PrefixChildren      = "children/"
	PrefixWatermark     = "watermark"
	PrefixDelivered     = "delivered/"
	PrefixEquivocation  = "equivocation/"
	PrefixReputation    = "reputation/"
)

// Mem is an in-memory implementation of iface.Storage, safe for
// concurrent use. It is the default engine for tests and for
// single-process deployments; a real node wires in a disk-backed
// engine (e.g. github.com/luxfi/database over pebble) behind the same
// interface.
type Mem struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{data: make(map[string][]byte)}
}

var _ iface.Storage = (*Mem)(nil)

// Get returns the value stored for key.
func (m *Mem) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores value under key, overwriting any previous value.
func (m *Mem) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

// Delete removes key. It is not an error to delete a missing key.
func (m *Mem) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Range iterates all keys sharing prefix in lexicographic order.
func (m *Mem) Range(prefix []byte) (iface.KVIterator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type kv struct {
		k, v []byte
	}
	var matches []kv
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			matches = append(matches, kv{k: []byte(k), v: v})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return bytes.Compare(matches[i].k, matches[j].k) < 0 })

	keys := make([][]byte, len(matches))
	vals := make([][]byte, len(matches))
	for i, m := range matches {
		keys[i] = m.k
		vals[i] = m.v
	}
	return &memIterator{keys: keys, vals: vals, pos: -1}, nil
}

// Snapshot returns a point-in-time, independent copy of the store,
// safe to read from while writes continue on the original — used to
// serve sync requests without blocking on in-progress writes.
func (m *Mem) Snapshot() (iface.Storage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clone := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		cv := make([]byte, len(v))
		copy(cv, v)
		clone[k] = cv
	}
	return &Mem{data: clone}, nil
}

// Close releases resources held by the store. Mem holds none.
func (m *Mem) Close() error { return nil }

type memIterator struct {
	keys, vals [][]byte
	pos        int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIterator) Key() []byte   { return it.keys[it.pos] }
func (it *memIterator) Value() []byte { return it.vals[it.pos] }
func (it *memIterator) Close() error  { return nil }
