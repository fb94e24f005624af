// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/iface"
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
	h := wire.Header{Author: author, Round: round, Parents: parents, Timestamp: time.Unix(0, 0)}
	votes := make([]wire.SignedVoter, len(voters))
	for i, v := range voters {
		votes[i] = wire.SignedVoter{Voter: v}
	}
	return &wire.Certificate{Header: h, Votes: votes}
}

// fakeTransport answers Send by looking up an in-memory peer store,
// exercising the exact wire codec the real Transport would carry.
type fakeTransport struct {
	peerDAG *dagstore.Store
}

func (f *fakeTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, peer ids.NodeID, payload []byte) ([]byte, error) {
	var req wire.SyncRequest
	if _, err := codec.Codec.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	resp := Respond(f.peerDAG, &req)
	return codec.Codec.Marshal(codec.CurrentVersion, resp)
}

func (f *fakeTransport) Subscribe(ctx context.Context, topic string) (<-chan iface.InboundMessage, error) {
	ch := make(chan iface.InboundMessage)
	close(ch)
	return ch, nil
}

func TestFetchMissingResolvesFromPeer(t *testing.T) {
	a, b, c := nodeID(1), nodeID(2), nodeID(3)
	comm := committee.NewProvider(staticEpochs{members: []ids.NodeID{a, b, c}})

	peerDAG := dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	r1 := certAt(1, a, nil, a, b, c)
	_, _, err := peerDAG.Insert(r1)
	require.NoError(t, err)

	localDAG := dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	transport := &fakeTransport{peerDAG: peerDAG}
	s := New(Config{Transport: transport, DAG: localDAG})

	missing, err := s.FetchMissing(context.Background(), b, []wire.Digest{r1.Digest()})
	require.NoError(t, err)
	require.Empty(t, missing)
	require.True(t, localDAG.Has(r1.Digest()))
}

func TestFetchMissingReportsStillMissing(t *testing.T) {
	a, b, c := nodeID(1), nodeID(2), nodeID(3)
	comm := committee.NewProvider(staticEpochs{members: []ids.NodeID{a, b, c}})

	peerDAG := dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	localDAG := dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	transport := &fakeTransport{peerDAG: peerDAG}
	s := New(Config{Transport: transport, DAG: localDAG})

	unknown := wire.Digest{9, 9, 9}
	missing, err := s.FetchMissing(context.Background(), b, []wire.Digest{unknown})
	require.NoError(t, err)
	require.Contains(t, missing, unknown)
	require.Equal(t, 1, s.Parked())
}

func TestFetchMissingRecursesThroughParentChain(t *testing.T) {
	a, b, c := nodeID(1), nodeID(2), nodeID(3)
	comm := committee.NewProvider(staticEpochs{members: []ids.NodeID{a, b, c}})

	peerDAG := dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	r1 := certAt(1, a, nil, a, b, c)
	_, _, err := peerDAG.Insert(r1)
	require.NoError(t, err)
	r2 := certAt(2, a, []wire.Digest{r1.Digest()}, a, b, c)
	_, _, err = peerDAG.Insert(r2)
	require.NoError(t, err)

	localDAG := dagstore.New(dagstore.Config{DB: storage.NewMem(), Committees: comm})
	transport := &fakeTransport{peerDAG: peerDAG}
	s := New(Config{Transport: transport, DAG: localDAG})

	// Ask only for r2; its parent r1 is missing locally and must be
	// chased recursively.
	missing, err := s.FetchMissing(context.Background(), b, []wire.Digest{r2.Digest()})
	require.NoError(t, err)
	require.Empty(t, missing)
	require.True(t, localDAG.Has(r1.Digest()))
	require.True(t, localDAG.Has(r2.Digest()))
}

func TestReserveEnforcesPerPeerBudget(t *testing.T) {
	a := nodeID(1)
	s := New(Config{MaxInFlightPerPeer: 1})
	require.True(t, s.reserve(a))
	require.False(t, s.reserve(a), "second concurrent reservation must be rejected")
	s.release(a)
	require.True(t, s.reserve(a))
}
