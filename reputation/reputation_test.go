// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reputation

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dagconsensus/storage"
)

func nodeID(b byte) ids.NodeID {
	var id ids.NodeID
	id[0] = b
	return id
}

func TestScoreWeighsAnchorCommitsHighest(t *testing.T) {
	tr := New(Config{})
	a, b := nodeID(1), nodeID(2)

	tr.Observe(a, 1, Produced)
	tr.Observe(b, 1, AnchorCommitted)

	require.Less(t, tr.Score(a), tr.Score(b))
}

func TestRankedOrdersDescendingWithDeterministicTiebreak(t *testing.T) {
	tr := New(Config{})
	a, b, c := nodeID(1), nodeID(2), nodeID(3)

	tr.Observe(b, 1, AnchorCommitted)
	ranked := tr.Ranked([]ids.NodeID{a, b, c})
	require.Equal(t, b, ranked[0])
	// a and c are tied at zero; tiebreak is ascending ValidatorID.
	require.Equal(t, a, ranked[1])
	require.Equal(t, c, ranked[2])
}

func TestWindowTrimsOldestObservations(t *testing.T) {
	tr := New(Config{Window: 2})
	a := nodeID(1)

	tr.Observe(a, 1, AnchorCommitted) // weight 5, will be evicted
	tr.Observe(a, 2, Produced)        // weight 1
	tr.Observe(a, 3, Produced)        // weight 1

	require.Equal(t, 2, tr.Score(a))
}

func TestPenalizeSetsCooldownThroughPenaltyWindow(t *testing.T) {
	tr := New(Config{})
	a := nodeID(1)

	tr.Penalize(a, 10, 5)
	require.True(t, tr.CooldownAt(a, 14))
	require.False(t, tr.CooldownAt(a, 15))
}

func TestPenalizeNeverShortensAnExistingCooldown(t *testing.T) {
	tr := New(Config{})
	a := nodeID(1)

	tr.Penalize(a, 10, 20) // cooldown until round 30
	tr.Penalize(a, 12, 5)  // would only extend to round 17
	require.True(t, tr.CooldownAt(a, 25))
}

func TestPersistWritesUnderReputationKey(t *testing.T) {
	db := storage.NewMem()
	tr := New(Config{DB: db})
	a := nodeID(1)
	tr.Observe(a, 1, AnchorCommitted)

	require.NoError(t, tr.Persist(0, a))

	raw, err := db.Get(storage.ReputationKey(0, a))
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}
