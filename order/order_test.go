// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package order

import (
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/leader"
	"github.com/luxfi/dagconsensus/storage"
	"github.com/luxfi/dagconsensus/wire"
)

func nodeID(b byte) ids.NodeID {
	var id ids.NodeID
	id[0] = b
	return id
}

type staticEpochs struct{ members []ids.NodeID }

func (s staticEpochs) CommitteeFor(epoch uint64) (iface.Members, error) {
	return iface.Members{Members: s.members}, nil
}
func (s staticEpochs) EpochOf(round uint64) uint64 { return 0 }

func certAt(round wire.Round, author ids.NodeID, parents []wire.Digest, voters ...ids.NodeID) *wire.Certificate {
	h := wire.Header{Author: author, Round: round, Parents: parents, Timestamp: time.Unix(int64(round), 0)}
	votes := make([]wire.SignedVoter, len(voters))
	for i, v := range voters {
		votes[i] = wire.SignedVoter{Voter: v}
	}
	return &wire.Certificate{Header: h, Votes: votes}
}

func setup(t *testing.T) (a, b, c ids.NodeID, dag *dagstore.Store, eng *Engine) {
	a, b, c = nodeID(1), nodeID(2), nodeID(3)
	comm := committee.NewProvider(staticEpochs{members: []ids.NodeID{a, b, c}})
	dag = dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	el := leader.New(comm)
	eng = New(Config{DAG: dag, Committees: comm, Leaders: el, DB: storage.NewMem()})
	return
}

// insertRound inserts one certificate per author at round, each
// referencing parents, each voted by all three validators.
func insertRound(t *testing.T, dag *dagstore.Store, round wire.Round, parents []wire.Digest, a, b, c ids.NodeID) (ra, rb, rc *wire.Certificate) {
	ra = certAt(round, a, parents, a, b, c)
	rb = certAt(round, b, parents, a, b, c)
	rc = certAt(round, c, parents, a, b, c)
	for _, cert := range []*wire.Certificate{ra, rb, rc} {
		_, _, err := dag.Insert(cert)
		require.NoError(t, err)
	}
	return
}

func TestIsAnchorRound(t *testing.T) {
	require.False(t, IsAnchorRound(0))
	require.False(t, IsAnchorRound(1))
	require.True(t, IsAnchorRound(2))
	require.False(t, IsAnchorRound(3))
	require.True(t, IsAnchorRound(4))
}

func TestAdvanceCommitsAnchorWithFullNextRoundSupport(t *testing.T) {
	a, b, c, dag, eng := setup(t)

	_, r1b, _ := insertRound(t, dag, 1, nil, a, b, c)

	parents1 := []wire.Digest{}
	for _, n := range []ids.NodeID{a, b, c} {
		d, ok := dag.GetByAuthorRound(1, n)
		require.True(t, ok)
		parents1 = append(parents1, d)
	}

	// round 2: leader(2) = c (index 2 mod 3 on sorted [a,b,c]); its
	// certificate is the anchor candidate.
	ra2, _, rc2 := insertRound(t, dag, 2, parents1, a, b, c)
	_ = ra2

	parents2 := []wire.Digest{}
	for _, n := range []ids.NodeID{a, b, c} {
		d, ok := dag.GetByAuthorRound(2, n)
		require.True(t, ok)
		parents2 = append(parents2, d)
	}
	insertRound(t, dag, 3, parents2, a, b, c)

	delivered, err := eng.Advance(3)
	require.NoError(t, err)
	require.Contains(t, delivered, rc2.Digest())
	require.True(t, eng.Delivered(rc2.Digest()))
	require.Contains(t, delivered, r1b.Digest(), "round-1 certs are causal ancestors of the round-2 anchor")
}

func TestAdvanceSkipsAnchorWithNoNextRoundSupport(t *testing.T) {
	a, b, c, dag, eng := setup(t)

	insertRound(t, dag, 1, nil, a, b, c)
	parents1 := []wire.Digest{}
	for _, n := range []ids.NodeID{a, b, c} {
		d, ok := dag.GetByAuthorRound(1, n)
		require.True(t, ok)
		parents1 = append(parents1, d)
	}
	_, _, rc2 := insertRound(t, dag, 2, parents1, a, b, c)

	// round-3 certificates deliberately omit the round-2 anchor (c's
	// certificate) as a parent: it gets zero next-round support.
	da, _ := dag.GetByAuthorRound(2, a)
	parents2 := []wire.Digest{da}
	insertRound(t, dag, 3, parents2, a, b, c)

	delivered, err := eng.Advance(3)
	require.NoError(t, err)
	require.Empty(t, delivered)
	require.False(t, eng.Delivered(rc2.Digest()))
}

func TestAdvanceStopsAtUndecidedAnchor(t *testing.T) {
	a, b, c, dag, eng := setup(t)

	insertRound(t, dag, 1, nil, a, b, c)
	parents1 := []wire.Digest{}
	for _, n := range []ids.NodeID{a, b, c} {
		d, ok := dag.GetByAuthorRound(1, n)
		require.True(t, ok)
		parents1 = append(parents1, d)
	}
	insertRound(t, dag, 2, parents1, a, b, c)

	// No round-3 certificates observed yet: the round-2 anchor cannot
	// yet be classified.
	delivered, err := eng.Advance(6)
	require.NoError(t, err)
	require.Empty(t, delivered)
}

func TestAdvanceIsIdempotent(t *testing.T) {
	a, b, c, dag, eng := setup(t)

	insertRound(t, dag, 1, nil, a, b, c)
	parents1 := []wire.Digest{}
	for _, n := range []ids.NodeID{a, b, c} {
		d, ok := dag.GetByAuthorRound(1, n)
		require.True(t, ok)
		parents1 = append(parents1, d)
	}
	insertRound(t, dag, 2, parents1, a, b, c)
	parents2 := []wire.Digest{}
	for _, n := range []ids.NodeID{a, b, c} {
		d, ok := dag.GetByAuthorRound(2, n)
		require.True(t, ok)
		parents2 = append(parents2, d)
	}
	insertRound(t, dag, 3, parents2, a, b, c)

	first, err := eng.Advance(3)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := eng.Advance(3)
	require.NoError(t, err)
	require.Empty(t, second, "calling Advance again must not re-deliver")
}
