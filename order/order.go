// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package order implements the Ordering Engine: it designates an
// anchor certificate every AnchorStride rounds via leader election,
// applies the two-round commit rule (a certificate commits once
// >=2f+1 weight in the next round supports it, or skips once >=2f+1
// weight does not), and linearizes the causal history between
// consecutive committed anchors into a single delivery order.
package order

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/leader"
	"github.com/luxfi/dagconsensus/metrics"
	"github.com/luxfi/dagconsensus/reputation"
	"github.com/luxfi/dagconsensus/storage"
	"github.com/luxfi/dagconsensus/wire"
)

// AnchorStride is the number of rounds between anchor-eligible rounds.
const AnchorStride wire.Round = 2

// Decision is the outcome of classifying an anchor candidate.
type Decision int

const (
	Undecided Decision = iota
	Commit
	Skip
)

// Engine is the ordering engine for one node's local view of the DAG.
// It owns no concurrency of its own; Advance is expected to be called
// from the single consensus task whenever new certificates are
// inserted.
type Engine struct {
	mu sync.Mutex

	dag        *dagstore.Store
	committees *committee.Provider
	leaders    *leader.Elector
	db         iface.Storage
	log        log.Logger

	reputation *reputation.Tracker
	metrics    *metrics.Metrics

	cursor          wire.Round // next anchor round Advance will examine; advances on Commit, Skip and a missing candidate alike
	lastAnchorRound wire.Round // round of the most recently *committed* anchor; the causal-history cutoff, left untouched by Skip or a missing candidate so their non-anchor certificates still linearize under the next committed anchor
	lastAnchor      wire.Digest
	delivered       map[wire.Digest]bool
	deliveredOrder  []wire.Digest
}

// Config bundles Engine's dependencies.
type Config struct {
	DAG        *dagstore.Store
	Committees *committee.Provider
	Leaders    *leader.Elector
	DB         iface.Storage
	Log        log.Logger
	// Reputation is credited with an AnchorCommitted observation for an
	// anchor's author whenever that anchor commits. Optional; nil
	// disables reputation credit.
	Reputation *reputation.Tracker
	// Metrics records AnchorsCommitted, AnchorsSkipped and CommitLatency.
	// Optional; nil disables metrics recording.
	Metrics *metrics.Metrics
}

// New constructs an Engine starting from genesis (no anchor committed
// yet).
func New(cfg Config) *Engine {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &Engine{
		dag:        cfg.DAG,
		committees: cfg.Committees,
		leaders:    cfg.Leaders,
		db:         cfg.DB,
		log:        l,
		reputation: cfg.Reputation,
		metrics:    cfg.Metrics,
		delivered:  make(map[wire.Digest]bool),
	}
}

// IsAnchorRound reports whether round designates an anchor candidate:
// every AnchorStride-th round, the first being AnchorStride itself.
func IsAnchorRound(round wire.Round) bool {
	return round > 0 && round%AnchorStride == 0
}

// Candidate resolves the anchor candidate certificate digest at round
// (the committee leader's certificate, if one has been observed).
func (e *Engine) Candidate(round wire.Round) (wire.Digest, bool, error) {
	author, err := e.leaders.LeaderOf(round)
	if err != nil {
		return wire.Digest{}, false, err
	}
	d, ok := e.dag.GetByAuthorRound(round, author)
	return d, ok, nil
}

// Classify applies the two-round commit rule to the certificate at
// digest: it commits once >=2f+1 weight at digest's round+1 lists
// digest as a parent, skips once >=2f+1 weight does not, and is
// otherwise undecided pending more round+1 certificates.
func (e *Engine) Classify(digest wire.Digest) (Decision, error) {
	cert, ok := e.dag.Get(digest)
	if !ok {
		return Undecided, nil
	}
	nextRound := cert.Header.Round + 1
	comm, err := e.committees.Resolve(uint64(nextRound))
	if err != nil {
		return Undecided, err
	}

	next := e.dag.ByRound(nextRound)
	var support, noSupport uint64
	for _, childDigest := range next {
		child, ok := e.dag.Get(childDigest)
		if !ok {
			continue
		}
		w := comm.Weight(child.Header.Author)
		if supports(child, digest) {
			support += w
		} else {
			noSupport += w
		}
		if support >= comm.Quorum {
			return Commit, nil
		}
		if noSupport >= comm.Quorum {
			return Skip, nil
		}
	}
	return Undecided, nil
}

func supports(child *wire.Certificate, candidate wire.Digest) bool {
	for _, p := range child.Header.Parents {
		if p == candidate {
			return true
		}
	}
	return false
}

// Advance attempts to classify every anchor round since the last
// committed anchor, in order. For each Commit it linearizes the causal
// history since the previous anchor (skipping already-delivered
// certificates, so Advance is safe to call repeatedly) and returns the
// newly delivered digests in commit order. It stops at the first
// Undecided anchor: a later anchor committing does not retroactively
// decide an earlier undecided one out of order; Skip simply advances
// past that anchor round. A round whose leader has produced no
// certificate at all is not distinguishable from network delay until a
// later anchor round is already committable; once it is, the missing
// round is treated as contributing nothing and the look-ahead carries
// on past it, so a permanently offline anchor leader never stalls the
// commit path.
func (e *Engine) Advance(throughRound wire.Round) ([]wire.Digest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var delivered []wire.Digest
	round := e.nextAnchorRoundLocked()
	for round <= throughRound {
		candidate, ok, err := e.Candidate(round)
		if err != nil {
			return delivered, err
		}
		if !ok {
			if !e.laterAnchorCommittableLocked(round, throughRound) {
				break // leader may still produce a certificate at this round
			}
			// The anchor leader for this round never produced a
			// certificate, but a later anchor round is already
			// committable: this round's anchor slot contributes
			// nothing, and its non-anchor certificates are still
			// ordered as part of the later anchor's causal history
			// (lastAnchorRound is left untouched so that history
			// still reaches back through this round).
			if e.metrics != nil {
				e.metrics.AnchorsSkipped.Inc()
			}
			round += AnchorStride
			e.cursor = round
			continue
		}

		decision, err := e.Classify(candidate)
		if err != nil {
			return delivered, err
		}
		switch decision {
		case Commit:
			newlyDelivered, err := e.commitAnchorLocked(round, candidate)
			if err != nil {
				return delivered, err
			}
			delivered = append(delivered, newlyDelivered...)
			round += AnchorStride
			e.cursor = round
		case Skip:
			if e.metrics != nil {
				e.metrics.AnchorsSkipped.Inc()
			}
			round += AnchorStride
			e.cursor = round
		case Undecided:
			return delivered, nil
		}
	}
	return delivered, nil
}

// laterAnchorCommittableLocked reports whether any anchor round strictly
// after round (up to throughRound) already has a certificate classifying
// as Commit, which tells Advance that round's missing anchor candidate is
// never coming and the look-ahead should skip past it rather than stall.
func (e *Engine) laterAnchorCommittableLocked(round, throughRound wire.Round) bool {
	for r := round + AnchorStride; r <= throughRound; r += AnchorStride {
		candidate, ok, err := e.Candidate(r)
		if err != nil || !ok {
			continue
		}
		decision, err := e.Classify(candidate)
		if err != nil {
			continue
		}
		if decision == Commit {
			return true
		}
	}
	return false
}

func (e *Engine) nextAnchorRoundLocked() wire.Round {
	if e.cursor == 0 {
		return AnchorStride
	}
	return e.cursor
}

// commitAnchorLocked linearizes the causal history between the
// previous committed anchor and the new one, in round-then-digest
// order (round ascending, then digest ascending, for a total order
// within a round), marks each as delivered, and advances the DAG
// store's prune watermark.
func (e *Engine) commitAnchorLocked(round wire.Round, anchor wire.Digest) ([]wire.Digest, error) {
	if e.reputation != nil || e.metrics != nil {
		if cert, ok := e.dag.Get(anchor); ok {
			if e.reputation != nil {
				e.reputation.Observe(cert.Header.Author, uint64(round), reputation.AnchorCommitted)
			}
			if e.metrics != nil {
				e.metrics.AnchorsCommitted.Inc()
				if latency := time.Since(cert.Header.Timestamp); latency >= 0 {
					e.metrics.CommitLatency.Observe(latency.Seconds())
				}
			}
		}
	}

	history := e.dag.CausalHistory(anchor, e.lastAnchorRound)
	history = append(history, anchor)

	sort.Slice(history, func(i, j int) bool {
		ci, _ := e.dag.Get(history[i])
		cj, _ := e.dag.Get(history[j])
		if ci == nil || cj == nil {
			return history[i].Compare(history[j]) < 0
		}
		if ci.Header.Round != cj.Header.Round {
			return ci.Header.Round < cj.Header.Round
		}
		return history[i].Compare(history[j]) < 0
	})

	var newly []wire.Digest
	for _, d := range history {
		if e.delivered[d] {
			continue
		}
		e.delivered[d] = true
		e.deliveredOrder = append(e.deliveredOrder, d)
		newly = append(newly, d)
		if err := e.persistDelivered(d); err != nil {
			return newly, err
		}
	}

	e.lastAnchorRound = round
	e.lastAnchor = anchor
	if round > AnchorStride {
		e.dag.PruneBelow(round - AnchorStride)
	}
	e.log.Info("order: anchor committed", "round", round, "digest", anchor, "delivered", len(newly))
	return newly, nil
}

func (e *Engine) persistDelivered(digest wire.Digest) error {
	if e.db == nil {
		return nil
	}
	cert, ok := e.dag.Get(digest)
	if !ok {
		return nil
	}
	if err := e.db.Put(storage.DeliveredKey(cert.Header.Round, digest), []byte{1}); err != nil {
		return errors.Wrap(err, "order: persist delivered marker")
	}
	return nil
}

// Delivered reports whether digest has already been linearized and
// delivered, so callers (e.g. the runner applying certificates to
// downstream execution) can treat Advance as idempotent.
func (e *Engine) Delivered(digest wire.Digest) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delivered[digest]
}

// DeliveredOrder returns the full delivery sequence so far.
func (e *Engine) DeliveredOrder() []wire.Digest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]wire.Digest, len(e.deliveredOrder))
	copy(out, e.deliveredOrder)
	return out
}
