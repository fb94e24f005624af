// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package leader implements leader election: a deterministic,
// committee-wide-agreed mapping from round to a single designated
// leader, used by the ordering engine to pick anchor certificates. The
// default policy is round-robin over the sorted committee; an
// optional reputation-biased variant ("Shoal"-style) skips validators
// serving a reputation cooldown.
package leader

import (
	"github.com/luxfi/ids"

	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/wire"
)

// LeaderStride is the number of consecutive rounds that share one
// leader before the rotation moves to the next member. It is 1: the
// leader changes every round.
const LeaderStride = 1

// ReputationSource supplies a per-validator cooldown flag, used only by
// an Elector built with WithReputation.
type ReputationSource interface {
	// Cooldown reports whether id is currently excluded from
	// leadership (e.g. by the equivocation guard's penalty window).
	Cooldown(id ids.NodeID) bool
}

// Elector resolves the designated leader of a round. Round-robin
// election never fails once the committee resolves; it is a pure
// function of round and committee membership, so every honest node
// computes the same answer independently without communication.
type Elector struct {
	committees *committee.Provider
	reputation ReputationSource // nil selects plain round-robin
}

// New constructs a round-robin Elector. Pass a non-nil
// ReputationSource via WithReputation to enable the biased variant.
func New(committees *committee.Provider) *Elector {
	return &Elector{committees: committees}
}

// WithReputation returns a copy of e that skips cooldown-flagged
// validators, falling back to the next eligible candidate in sorted
// order.
func (e *Elector) WithReputation(src ReputationSource) *Elector {
	return &Elector{committees: e.committees, reputation: src}
}

// LeaderOf returns the designated leader of round: the member at index
// (round/LeaderStride) mod n of the sorted committee. Every round
// resolves to a leader.
func (e *Elector) LeaderOf(round wire.Round) (ids.NodeID, error) {
	comm, err := e.committees.Resolve(uint64(round))
	if err != nil {
		return ids.NodeID{}, err
	}
	n := comm.Len()
	if n == 0 {
		return ids.NodeID{}, committee.ErrUnknownEpoch
	}

	start := int(uint64(round) / LeaderStride % uint64(n))
	if e.reputation == nil {
		return comm.MemberAt(start), nil
	}

	for i := 0; i < n; i++ {
		candidate := comm.MemberAt(start + i)
		if !e.reputation.Cooldown(candidate) {
			return candidate, nil
		}
	}
	// Every candidate is in cooldown simultaneously (should not happen
	// with a reasonable penalty window): fall back to the unbiased
	// choice rather than stalling leader resolution.
	return comm.MemberAt(start), nil
}

// IsLeader reports whether id is the designated leader of round.
func (e *Elector) IsLeader(round wire.Round, id ids.NodeID) (bool, error) {
	leader, err := e.LeaderOf(round)
	if err != nil {
		return false, err
	}
	return leader == id, nil
}
