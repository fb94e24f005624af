// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package iface declares the narrow capability interfaces the consensus
// core consumes from the rest of the node. None of these are implemented
// here: key management, transport and storage engine selection are
// external collaborators assembled by the node that embeds this core.
package iface

import (
	"context"
	"time"

	"github.com/luxfi/ids"
)

// KeyService signs and verifies messages on behalf of the local
// validator and verifies remote signatures. The core never touches raw
// key material.
type KeyService interface {
	Sign(msg []byte) ([]byte, error)
	Verify(pubKey ids.NodeID, msg, sig []byte) bool
}

// Transport broadcasts to and exchanges request/response messages with
// the committee. Implementations may be in-process (tests) or a real
// P2P stack; the core is polymorphic over this interface.
type Transport interface {
	Broadcast(ctx context.Context, topic string, payload []byte) error
	Send(ctx context.Context, peer ids.NodeID, payload []byte) ([]byte, error)
	Subscribe(ctx context.Context, topic string) (<-chan InboundMessage, error)
}

// InboundMessage is a payload received from a peer on a subscribed topic.
type InboundMessage struct {
	From    ids.NodeID
	Payload []byte
}

// Storage is the disk-backed key-value engine the DAG store and
// reputation/equivocation ledgers persist to. Engine selection (pebble,
// leveldb, memdb, ...) is external; the core only requires this
// contract.
type Storage interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Range(prefix []byte) (KVIterator, error)
	Snapshot() (Storage, error)
	Close() error
}

// KVIterator walks a key range in lexicographic key order.
type KVIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
}

// Clock supplies monotonic and wall-clock time. Headers carry wall-clock
// timestamps for liveness diagnostics only; consensus decisions never
// depend on them.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
	NewTimer(d time.Duration) (<-chan time.Time, func() bool)
}

// EpochProvider resolves the committee and epoch membership for a round.
// The caller guarantees that the same epoch identifier yields the same
// committee on every honest node.
type EpochProvider interface {
	CommitteeFor(epoch uint64) (Members, error)
	EpochOf(round uint64) uint64
}

// Members is the raw membership list an EpochProvider resolves for an
// epoch, before quorum/weight bookkeeping is attached by package
// committee.
type Members struct {
	Members []ids.NodeID
	Weights map[ids.NodeID]uint64 // nil entries default to weight 1
}
