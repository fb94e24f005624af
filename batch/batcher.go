// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package batch implements the Batcher: it buffers submitted
// transactions and, on a timer or size threshold, seals an immutable
// batch with a content digest for the Header Builder to reference.
package batch

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/wire"
)

// ErrUnknownBatch is returned by Get when no batch exists for a digest.
var ErrUnknownBatch = errors.New("batch: unknown digest")

// Batch is an immutable, sealed sequence of transactions plus its
// digest.
type Batch struct {
	Digest       wire.BatchDigest
	Transactions [][]byte
	SealedAt     time.Time
}

// Config bundles Batcher's sealing policy.
type Config struct {
	// MaxBatchSize seals a batch once this many transactions are
	// buffered.
	MaxBatchSize int
	// MaxBatchDelay seals whatever is buffered (even if non-empty and
	// below MaxBatchSize) once this long has elapsed since the last
	// seal.
	MaxBatchDelay time.Duration
	Log           log.Logger
}

// DefaultConfig returns a conservative sealing policy suitable for
// local development.
func DefaultConfig() Config {
	return Config{MaxBatchSize: 500, MaxBatchDelay: 100 * time.Millisecond}
}

// Batcher buffers transactions and seals batches per Config. It is safe
// for concurrent use; the Header Builder obtains sealed batch digests
// through MaybeSeal.
type Batcher struct {
	mu      sync.Mutex
	cfg     Config
	log     log.Logger
	pending [][]byte
	lastSeal time.Time
	sealed  map[wire.BatchDigest]*Batch

	nowFn func() time.Time
}

// New constructs a Batcher.
func New(cfg Config) *Batcher {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.MaxBatchDelay <= 0 {
		cfg.MaxBatchDelay = DefaultConfig().MaxBatchDelay
	}
	return &Batcher{
		cfg:      cfg,
		log:      l,
		sealed:   make(map[wire.BatchDigest]*Batch),
		lastSeal: time.Now(),
		nowFn:    time.Now,
	}
}

// Submit buffers a transaction for inclusion in a future batch.
func (b *Batcher) Submit(tx []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(tx))
	copy(cp, tx)
	b.pending = append(b.pending, cp)
}

// MaybeSeal seals and returns a new batch if the size threshold or the
// inter-batch delay has been reached: the Header Builder needs at
// least one pending batch digest available, or a minimum inter-header
// interval elapsed, before it builds. It returns (nil, false) when
// there is nothing to seal yet.
func (b *Batcher) MaybeSeal() (*Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	sizeReady := len(b.pending) >= b.cfg.MaxBatchSize
	timeReady := len(b.pending) > 0 && now.Sub(b.lastSeal) >= b.cfg.MaxBatchDelay
	if !sizeReady && !timeReady {
		return nil, false
	}
	return b.seal(now), true
}

// Seal unconditionally seals whatever is currently pending (possibly
// empty), used to produce empty headers that keep the DAG advancing
// when no batches are ready.
func (b *Batcher) Seal() *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seal(b.nowFn())
}

func (b *Batcher) seal(now time.Time) *Batch {
	txs := b.pending
	b.pending = nil
	b.lastSeal = now

	digest := wire.BatchDigest(hashTransactions(txs))
	batch := &Batch{Digest: digest, Transactions: txs, SealedAt: now}
	b.sealed[digest] = batch
	b.log.Debug("batch: sealed", "digest", digest, "count", len(txs))
	return batch
}

// Get returns a previously sealed batch by digest, for the
// Synchronizer to serve peers.
func (b *Batcher) Get(digest wire.BatchDigest) (*Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch, ok := b.sealed[digest]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBatch, "%x", digest)
	}
	return batch, nil
}

func hashTransactions(txs [][]byte) wire.Digest {
	var buf []byte
	for _, tx := range txs {
		buf = append(buf, tx...)
		buf = append(buf, 0)
	}
	return wire.HashOf(buf)
}
