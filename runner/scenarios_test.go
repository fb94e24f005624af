// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runner

import (
	"context"
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/dagconsensus/batch"
	"github.com/luxfi/dagconsensus/broadcast"
	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/equivocation"
	"github.com/luxfi/dagconsensus/header"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/leader"
	"github.com/luxfi/dagconsensus/order"
	"github.com/luxfi/dagconsensus/reputation"
	"github.com/luxfi/dagconsensus/storage"
	sy "github.com/luxfi/dagconsensus/sync"
	"github.com/luxfi/dagconsensus/wire"
)

func scenarioNodeID(b byte) ids.NodeID {
	var id ids.NodeID
	id[0] = b
	return id
}

type scenarioEpochs struct{ members []ids.NodeID }

func (s scenarioEpochs) CommitteeFor(epoch uint64) (iface.Members, error) {
	return iface.Members{Members: s.members}, nil
}
func (s scenarioEpochs) EpochOf(round uint64) uint64 { return 0 }

// buildScenarioRunner assembles a Runner from the same components
// runner.Build wires, but without keys, clock, logger or metrics and
// with each component's default tunables. MinHeaderInterval is left at
// zero so headers build immediately in tests without needing real
// elapsed wall-clock time; the committee and quorum semantics are those
// of the real components.
func buildScenarioRunner(self ids.NodeID, members []ids.NodeID, db *storage.Mem) *Runner {
	committees := committee.NewProvider(scenarioEpochs{members: members})
	dag := dagstore.New(dagstore.Config{DB: db, Committees: committees})
	bat := batch.New(batch.DefaultConfig())
	leaders := leader.New(committees)
	rep := reputation.New(reputation.Config{DB: db})
	equiv := equivocation.New(equivocation.Config{DB: db, Reputation: rep})
	biasedLeaders := leaders.WithReputation(rep)
	orderingEngine := order.New(order.Config{DAG: dag, Committees: committees, Leaders: biasedLeaders, DB: db})

	builder := header.New(header.Config{
		Author:     self,
		Committees: committees,
		DAG:        dag,
		Batcher:    bat,
		LeaderHint: func(round wire.Round) (ids.NodeID, bool) {
			id, err := biasedLeaders.LeaderOf(round)
			if err != nil {
				return ids.NodeID{}, false
			}
			return id, true
		},
	})

	bc := broadcast.New(broadcast.Config{Self: self, Committees: committees})
	syncer := sy.New(sy.Config{DAG: dag})

	return New(Config{
		Self:         self,
		Committees:   committees,
		DAG:          dag,
		Batcher:      bat,
		Builder:      builder,
		Broadcaster:  bc,
		Syncer:       syncer,
		Leaders:      biasedLeaders,
		Ordering:     orderingEngine,
		Reputation:   rep,
		Equivocation: equiv,
	})
}

// deliverHeader runs h through the reliable-broadcast voter side of
// every node, collects votes back at the author, and returns the
// resulting certificate once quorum is reached.
func deliverHeader(t *testing.T, nodes map[ids.NodeID]*Runner, h *wire.Header) *wire.Certificate {
	t.Helper()
	ctx := context.Background()
	author := nodes[h.Author]
	var cert *wire.Certificate
	for id, n := range nodes {
		vote, equiv, err := n.HandleDraftHeader(h)
		require.NoError(t, err)
		require.Nil(t, equiv, "node %s flagged an unexpected equivocation", id)
		if vote == nil {
			continue
		}
		c, err := author.HandleVote(ctx, vote)
		require.NoError(t, err)
		if c != nil {
			cert = c
		}
	}
	return cert
}

// propagateCertificate ingests cert into every node's DAG other than
// its author (whose copy was already inserted by HandleVote).
func propagateCertificate(t *testing.T, nodes map[ids.NodeID]*Runner, cert *wire.Certificate) {
	t.Helper()
	ctx := context.Background()
	for id, n := range nodes {
		if id == cert.Header.Author {
			continue
		}
		_, err := n.IngestCertificate(ctx, cert)
		require.NoError(t, err)
	}
}

// runFullRound ticks every node for its current round, drives each
// resulting header through reliable broadcast, and propagates the
// certificates formed. It returns the certificates formed this round,
// keyed by author.
func runFullRound(t *testing.T, nodes map[ids.NodeID]*Runner, authors []ids.NodeID) map[ids.NodeID]*wire.Certificate {
	t.Helper()
	ctx := context.Background()
	formed := make(map[ids.NodeID]*wire.Certificate)
	for _, id := range authors {
		n := nodes[id]
		h, _, err := n.Tick(ctx)
		require.NoError(t, err)
		if h == nil {
			continue
		}

		cert := deliverHeader(t, nodes, h)
		if cert == nil {
			continue
		}
		formed[id] = cert
		propagateCertificate(t, nodes, cert)
	}
	return formed
}

// TestThreeValidatorHappyPath exercises the happy path: three
// validators, no faults, an anchor commits with full next-round
// support and its causal history linearizes.
func TestThreeValidatorHappyPath(t *testing.T) {
	a, b, c := scenarioNodeID(1), scenarioNodeID(2), scenarioNodeID(3)
	members := []ids.NodeID{a, b, c}
	authors := []ids.NodeID{a, b, c}

	nodes := map[ids.NodeID]*Runner{
		a: buildScenarioRunner(a, members, storage.NewMem()),
		b: buildScenarioRunner(b, members, storage.NewMem()),
		c: buildScenarioRunner(c, members, storage.NewMem()),
	}

	round1 := runFullRound(t, nodes, authors)
	require.Len(t, round1, 3, "all three validators certify at round 1")

	round2 := runFullRound(t, nodes, authors)
	require.Len(t, round2, 3, "round 2 (the anchor round) certifies for all three")

	round3 := runFullRound(t, nodes, authors)
	require.Len(t, round3, 3, "round 3 carries full next-round support for the round-2 anchor")

	// Every node independently decided the same anchor is committed.
	for id, n := range nodes {
		anchorAuthor := leaderAt(t, n, 2)
		require.True(t, n.ordering.Delivered(round2[anchorAuthor].Digest()),
			"node %s should have delivered the round-2 anchor", id)
	}
}

// leaderAt resolves the designated leader of round for assertions.
func leaderAt(t *testing.T, n *Runner, round wire.Round) ids.NodeID {
	t.Helper()
	id, err := n.leaders.LeaderOf(round)
	require.NoError(t, err)
	return id
}

// TestSingleValidatorAnchorSkip exercises the skip case: the
// round-2 anchor candidate never accumulates next-round support (its
// certificate is deliberately withheld from the round-3 parent sets),
// so advancing to round 3 skips it rather than delivering it.
func TestSingleValidatorAnchorSkip(t *testing.T) {
	a, b, c := scenarioNodeID(1), scenarioNodeID(2), scenarioNodeID(3)
	members := []ids.NodeID{a, b, c}

	db := storage.NewMem()
	dag := dagstore.New(dagstore.Config{DB: db, Committees: committee.NewProvider(scenarioEpochs{members: members})})
	comm := committee.NewProvider(scenarioEpochs{members: members})
	leaders := leader.New(comm)
	eng := order.New(order.Config{DAG: dag, Committees: comm, Leaders: leaders, DB: db})

	insertAt := func(round wire.Round, parents []wire.Digest) (dA, dB, dC wire.Digest) {
		for _, author := range members {
			h := wire.Header{Author: author, Round: round, Parents: parents}
			votes := make([]wire.SignedVoter, len(members))
			for i, v := range members {
				votes[i] = wire.SignedVoter{Voter: v}
			}
			cert := &wire.Certificate{Header: h, Votes: votes}
			_, _, err := dag.Insert(cert)
			require.NoError(t, err)
		}
		dA, _ = dag.GetByAuthorRound(round, members[0])
		dB, _ = dag.GetByAuthorRound(round, members[1])
		dC, _ = dag.GetByAuthorRound(round, members[2])
		return
	}

	insertAt(1, nil)
	parents1 := []wire.Digest{}
	for _, author := range members {
		d, ok := dag.GetByAuthorRound(1, author)
		require.True(t, ok)
		parents1 = append(parents1, d)
	}
	_, _, rc2 := insertAt(2, parents1)

	leaderRound2, err := leaders.LeaderOf(2)
	require.NoError(t, err)
	require.Equal(t, c, leaderRound2, "round-2 leader must be c for this scenario to exercise a skip of c's certificate")

	// Round-3 certificates omit c's round-2 certificate as a parent.
	da2, _ := dag.GetByAuthorRound(2, a)
	db2, _ := dag.GetByAuthorRound(2, b)
	insertAt(3, []wire.Digest{da2, db2})

	delivered, err := eng.Advance(3)
	require.NoError(t, err)
	require.False(t, eng.Delivered(rc2), "the withheld anchor must be skipped, not committed")
	require.NotContains(t, delivered, rc2)
}

// TestMissingParentTriggersSynchronizer exercises the gap-fill case:
// a node receives a certificate whose parents it has never seen and
// must recover them from a peer before the certificate, and everything
// causally behind it, can be delivered.
func TestMissingParentTriggersSynchronizer(t *testing.T) {
	a, b, c := scenarioNodeID(1), scenarioNodeID(2), scenarioNodeID(3)
	members := []ids.NodeID{a, b, c}
	authors := []ids.NodeID{a, b, c}

	nodeA := buildScenarioRunner(a, members, storage.NewMem())
	nodeB := buildScenarioRunner(b, members, storage.NewMem())
	nodeC := buildScenarioRunner(c, members, storage.NewMem())
	fullNodes := map[ids.NodeID]*Runner{a: nodeA, b: nodeB, c: nodeC}

	round1 := runFullRound(t, fullNodes, authors)
	require.Len(t, round1, 3)

	// An observing node, not itself a committee member, only has
	// genesis: it knows nothing of round 1 and receives a round-2
	// certificate directly, which declares round-1 parents it has
	// never stored.
	observer := buildScenarioRunner(scenarioNodeID(99), members, storage.NewMem())

	round2 := runFullRound(t, fullNodes, authors)
	require.Len(t, round2, 3)

	peerTransport := &peerServingTransport{peer: nodeB}
	observer.syncer = sy.New(sy.Config{Transport: peerTransport, DAG: observer.dag})
	observer.transport = peerTransport

	certFromB := round2[b]
	ctx := context.Background()
	_, err := observer.IngestCertificate(ctx, certFromB)
	require.NoError(t, err)
	require.True(t, observer.dag.Has(certFromB.Digest()), "the round-2 certificate itself must end up stored")
	for _, parent := range certFromB.Header.Parents {
		require.True(t, observer.dag.Has(parent), "missing round-1 parents must be recovered via the synchronizer before the round-2 certificate can be accepted")
	}
}

// peerServingTransport answers Send by delegating to a fully-synced
// peer Runner's sync responder; Broadcast and Subscribe are unused by
// this scenario.
type peerServingTransport struct {
	peer *Runner
}

func (p *peerServingTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	return nil
}

func (p *peerServingTransport) Send(ctx context.Context, to ids.NodeID, payload []byte) ([]byte, error) {
	var req wire.SyncRequest
	if _, err := codec.Codec.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	resp := p.peer.HandleSyncRequest(&req)
	return codec.Codec.Marshal(codec.CurrentVersion, resp)
}

func (p *peerServingTransport) Subscribe(ctx context.Context, topic string) (<-chan iface.InboundMessage, error) {
	ch := make(chan iface.InboundMessage)
	close(ch)
	return ch, nil
}

// TestEquivocationRecordedAndPenalized exercises the fault case:
// a validator signs two distinct headers for the same round, a voter
// detects the conflict and records a proof, and the author's
// reputation cools down.
func TestEquivocationRecordedAndPenalized(t *testing.T) {
	a, b, c := scenarioNodeID(1), scenarioNodeID(2), scenarioNodeID(3)
	members := []ids.NodeID{a, b, c}

	db := storage.NewMem()
	nodeB := buildScenarioRunner(b, members, db)

	// Round 1 headers need no parents, so the two
	// conflicting headers differ only in their batch reference.
	h1 := &wire.Header{Author: a, Round: 1}
	h2 := &wire.Header{Author: a, Round: 1, Batches: []wire.BatchDigest{{0xAB}}}

	vote1, equiv1, err := nodeB.HandleDraftHeader(h1)
	require.NoError(t, err)
	require.Nil(t, equiv1)
	require.NotNil(t, vote1)

	vote2, equiv2, err := nodeB.HandleDraftHeader(h2)
	require.NoError(t, err)
	require.Nil(t, vote2, "a conflicting header must not be voted for")
	require.NotNil(t, equiv2)
	require.Equal(t, a, equiv2.Author())
	require.True(t, nodeB.equivocation.IsRecorded(a, 1))
	require.True(t, nodeB.reputation.CooldownAt(a, reputation.DefaultPenaltyWindow))
	require.False(t, nodeB.reputation.CooldownAt(a, reputation.DefaultPenaltyWindow+1))
}

// TestCrashRecoveryReloadsFromDisk exercises crash recovery: a
// node's in-memory state is discarded and rebuilt purely from its
// persisted DAG store, recovering every certificate it held.
func TestCrashRecoveryReloadsFromDisk(t *testing.T) {
	a, b, c := scenarioNodeID(1), scenarioNodeID(2), scenarioNodeID(3)
	members := []ids.NodeID{a, b, c}
	authors := []ids.NodeID{a, b, c}

	db := storage.NewMem()
	nodeA := buildScenarioRunner(a, members, db)
	nodeB := buildScenarioRunner(b, members, storage.NewMem())
	nodeC := buildScenarioRunner(c, members, storage.NewMem())
	nodes := map[ids.NodeID]*Runner{a: nodeA, b: nodeB, c: nodeC}

	runFullRound(t, nodes, authors)
	round2 := runFullRound(t, nodes, authors)
	require.Len(t, round2, 3)

	// Simulate a restart: a fresh Store over the same backing database,
	// with none of the in-memory indices nodeA built up.
	recovered := dagstore.New(dagstore.Config{DB: db, Committees: committee.NewProvider(scenarioEpochs{members: members})})
	require.NoError(t, recovered.LoadFromDisk())

	for _, cert := range round2 {
		require.True(t, recovered.Has(cert.Digest()), "certificate formed before the crash must survive reload")
	}
}
