// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package header implements the Header Builder: it assembles a
// round-r header referencing a quorum of round-(r-1) certificates,
// once a node has enough parents and either a pending batch or an
// elapsed minimum interval, and has not already produced a header
// locally at that round.
package header

import (
	"sort"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/batch"
	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/wire"
)

// Config bundles the Header Builder's dependencies and tunables.
type Config struct {
	Author       ids.NodeID
	Committees   *committee.Provider
	DAG          *dagstore.Store
	Batcher      *batch.Batcher
	Keys         iface.KeyService
	Clock        iface.Clock
	Log          log.Logger
	// MaxParents bounds the number of round-(r-1) parent digests a
	// header may reference. It must be >= quorum(round-1) and should
	// include the prior round's leader when available.
	MaxParents int
	// LeaderHint resolves the leader of round r-1, used to bias
	// parent selection so the leader's certificate is included when
	// present (aids the anchor commit rule).
	LeaderHint func(round wire.Round) (ids.NodeID, bool)
	// MinHeaderInterval is the minimum time since the last locally
	// produced header before an empty header is permitted.
	MinHeaderInterval time.Duration
}

// Builder produces headers for a single local author. One Builder
// produces at most one header per round.
type Builder struct {
	cfg        Config
	log        log.Logger
	produced   map[wire.Round]bool
	lastHeader time.Time
}

// New constructs a Builder.
func New(cfg Config) *Builder {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	if cfg.MaxParents <= 0 {
		cfg.MaxParents = 1 << 30 // effectively unbounded unless configured
	}
	return &Builder{cfg: cfg, log: l, produced: make(map[wire.Round]bool)}
}

// TryBuild attempts to build and sign a header for round r. It returns
// (nil, false, nil) when the preconditions are not yet satisfied.
func (b *Builder) TryBuild(round wire.Round) (*wire.Header, bool, error) {
	if b.produced[round] {
		return nil, false, nil
	}

	var parents []wire.Digest
	if round == 1 {
		// Round-1 headers reference the implicit genesis set; no
		// stored parents are required.
	} else {
		quorum, err := b.cfg.Committees.QuorumAt(uint64(round - 1))
		if err != nil {
			return nil, false, err
		}
		parents = b.cfg.DAG.ByRound(round - 1)
		if uint64(len(parents)) < quorum {
			return nil, false, nil // not enough round-(r-1) certificates observed yet
		}
		parents = b.selectParents(round-1, parents)
	}

	batchDigests, haveBatch := b.pendingBatches()
	if !haveBatch && !b.minIntervalElapsed(round) {
		return nil, false, nil
	}

	h := &wire.Header{
		Author:    b.cfg.Author,
		Round:     round,
		Parents:   parents,
		Batches:   batchDigests,
		Timestamp: b.now(),
	}

	if b.cfg.Keys != nil {
		sig, err := b.cfg.Keys.Sign(canonicalSignable(h))
		if err != nil {
			return nil, false, err
		}
		h.AuthorSig = sig
	}

	b.produced[round] = true
	b.lastHeader = h.Timestamp
	b.log.Info("header: built", "round", round, "parents", len(parents), "batches", len(batchDigests))
	return h, true, nil
}

// selectParents truncates the observed round-(r-1) certificates to
// MaxParents, preferring to keep the prior round's leader certificate
// when one is configured and present.
func (b *Builder) selectParents(parentRound wire.Round, observed []wire.Digest) []wire.Digest {
	sort.Slice(observed, func(i, j int) bool { return observed[i].Compare(observed[j]) < 0 })
	if len(observed) <= b.cfg.MaxParents {
		return observed
	}

	kept := make([]wire.Digest, 0, b.cfg.MaxParents)
	if b.cfg.LeaderHint != nil {
		if leader, ok := b.cfg.LeaderHint(parentRound); ok {
			if d, ok := b.cfg.DAG.GetByAuthorRound(parentRound, leader); ok {
				kept = append(kept, d)
			}
		}
	}
	for _, d := range observed {
		if len(kept) >= b.cfg.MaxParents {
			break
		}
		already := false
		for _, k := range kept {
			if k == d {
				already = true
				break
			}
		}
		if !already {
			kept = append(kept, d)
		}
	}
	return kept
}

func (b *Builder) pendingBatches() ([]wire.BatchDigest, bool) {
	if b.cfg.Batcher == nil {
		return nil, false
	}
	batch, ok := b.cfg.Batcher.MaybeSeal()
	if !ok {
		return nil, false
	}
	return []wire.BatchDigest{batch.Digest}, true
}

// minIntervalElapsed reports whether enough time has passed since the
// last locally built header to justify an empty one, keeping the DAG
// advancing even with no pending transactions.
func (b *Builder) minIntervalElapsed(round wire.Round) bool {
	if b.lastHeader.IsZero() {
		return true
	}
	return b.now().Sub(b.lastHeader) >= b.cfg.MinHeaderInterval
}

func (b *Builder) now() time.Time {
	if b.cfg.Clock != nil {
		return b.cfg.Clock.Now()
	}
	return time.Now()
}

// canonicalSignable is what the author actually signs: the header
// digest itself, so a valid signature is reproducible independent of
// the envelope codec.
func canonicalSignable(h *wire.Header) []byte {
	d := h.Digest()
	return d[:]
}
