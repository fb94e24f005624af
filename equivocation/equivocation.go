// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package equivocation implements the Equivocation Guard: it detects
// when a validator authors two distinct headers at the same round,
// records the proof, and penalizes the offending validator by
// excluding it from leadership for a cooldown window via the
// reputation tracker.
package equivocation

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/metrics"
	"github.com/luxfi/dagconsensus/reputation"
	"github.com/luxfi/dagconsensus/storage"
	"github.com/luxfi/dagconsensus/wire"
)

// Guard tracks one committed header per (author, round) and raises an
// Equivocation proof the moment a conflicting second header is
// observed.
type Guard struct {
	mu            sync.Mutex
	db            iface.Storage
	log           log.Logger
	reputation    *reputation.Tracker
	metrics       *metrics.Metrics
	penaltyWindow int

	seen map[slotKey]wire.Header
	recorded map[slotKey]wire.Equivocation
}

type slotKey struct {
	author ids.NodeID
	round  wire.Round
}

// Config bundles Guard's dependencies and tunables.
type Config struct {
	DB            iface.Storage
	Log           log.Logger
	Reputation    *reputation.Tracker
	Metrics       *metrics.Metrics
	PenaltyWindow int
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	pw := cfg.PenaltyWindow
	if pw <= 0 {
		pw = reputation.DefaultPenaltyWindow
	}
	return &Guard{
		db:            cfg.DB,
		log:           l,
		reputation:    cfg.Reputation,
		metrics:       cfg.Metrics,
		penaltyWindow: pw,
		seen:          make(map[slotKey]wire.Header),
		recorded:      make(map[slotKey]wire.Equivocation),
	}
}

// ErrNoConflict is returned by Observe when h is not an equivocation
// (either the first header seen at its slot, or a re-delivery of the
// one already on record).
var ErrNoConflict = errors.New("equivocation: no conflict")

// Observe records h as the header seen from its author at its round.
// If a different header was already seen for the same (author, round)
// it returns the Equivocation proof and penalizes the author;
// otherwise it returns (nil, ErrNoConflict).
func (g *Guard) Observe(h *wire.Header) (*wire.Equivocation, error) {
	key := slotKey{author: h.Author, round: h.Round}

	g.mu.Lock()
	prior, ok := g.seen[key]
	if !ok {
		g.seen[key] = *h
		g.mu.Unlock()
		return nil, ErrNoConflict
	}
	if prior.Digest() == h.Digest() {
		g.mu.Unlock()
		return nil, ErrNoConflict
	}
	proof := wire.Equivocation{HeaderA: prior, HeaderB: *h}
	g.recorded[key] = proof
	g.mu.Unlock()

	if g.reputation != nil {
		g.reputation.Penalize(h.Author, uint64(h.Round), g.penaltyWindow)
	}
	if g.metrics != nil {
		g.metrics.EquivocationsFound.Inc()
	}
	g.log.Warn("equivocation: detected", "author", h.Author, "round", h.Round)

	if err := g.persist(key, &proof); err != nil {
		return &proof, err
	}
	return &proof, nil
}

// IsRecorded reports whether an equivocation has already been recorded
// for (author, round), used to avoid reprocessing duplicate proofs
// received from peers.
func (g *Guard) IsRecorded(author ids.NodeID, round wire.Round) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.recorded[slotKey{author: author, round: round}]
	return ok
}

// RecordProof ingests an Equivocation proof received from a peer
// (rather than detected locally), penalizing the author exactly once.
func (g *Guard) RecordProof(proof *wire.Equivocation) error {
	key := slotKey{author: proof.Author(), round: proof.Round()}

	g.mu.Lock()
	if _, ok := g.recorded[key]; ok {
		g.mu.Unlock()
		return nil
	}
	g.recorded[key] = *proof
	g.mu.Unlock()

	if g.reputation != nil {
		g.reputation.Penalize(proof.Author(), uint64(proof.Round()), g.penaltyWindow)
	}
	if g.metrics != nil {
		g.metrics.EquivocationsFound.Inc()
	}
	return g.persist(key, proof)
}

func (g *Guard) persist(key slotKey, proof *wire.Equivocation) error {
	if g.db == nil {
		return nil
	}
	raw, err := marshalEquivocation(proof)
	if err != nil {
		return errors.Wrap(err, "equivocation: marshal proof")
	}
	if err := g.db.Put(storage.EquivocationKey(key.author, key.round), raw); err != nil {
		return errors.Wrap(err, "equivocation: persist proof")
	}
	return nil
}

// Count returns the number of distinct (author, round) slots with a
// recorded equivocation, for liveness metrics.
func (g *Guard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.recorded)
}
