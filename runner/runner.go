// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runner implements the consensus runner: it owns the DAG
// Store and Ordering Engine, drains inbound messages (draft headers,
// votes, certificates, sync requests/responses), drives the Header
// Builder when a new round opens, invokes the Synchronizer on causal
// gaps, and advances the Ordering Engine after every successful
// insertion. All DAG-mutating operations funnel through a single
// goroutine-safe Runner acting as the sole consensus task.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/batch"
	"github.com/luxfi/dagconsensus/broadcast"
	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/equivocation"
	"github.com/luxfi/dagconsensus/header"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/leader"
	"github.com/luxfi/dagconsensus/metrics"
	"github.com/luxfi/dagconsensus/order"
	"github.com/luxfi/dagconsensus/reputation"
	sy "github.com/luxfi/dagconsensus/sync"
	"github.com/luxfi/dagconsensus/wire"
)

// Runner wires together every component and serializes all
// DAG-mutating calls behind its own mutex as the single consensus
// task.
type Runner struct {
	mu sync.Mutex

	self ids.NodeID
	log  log.Logger

	committees  *committee.Provider
	dag         *dagstore.Store
	batcher     *batch.Batcher
	builder     *header.Builder
	broadcaster *broadcast.Broadcaster
	syncer      *sy.Synchronizer
	leaders     *leader.Elector
	ordering    *order.Engine
	reputation  *reputation.Tracker
	equivocation *equivocation.Guard
	metrics     *metrics.Metrics

	transport iface.Transport
	round     wire.Round
	lastTick  time.Time

	// OnDeliver is invoked for every newly ordered digest, in order;
	// nil is a legal no-op sink.
	OnDeliver func(digest wire.Digest, cert *wire.Certificate)
}

// Config bundles every collaborator the Runner drives. Log, Syncer,
// Transport and Metrics may be nil; all other fields are required.
type Config struct {
	Self        ids.NodeID
	Log         log.Logger
	Committees  *committee.Provider
	DAG         *dagstore.Store
	Batcher     *batch.Batcher
	Builder     *header.Builder
	Broadcaster *broadcast.Broadcaster
	Syncer      *sy.Synchronizer
	Leaders     *leader.Elector
	Ordering    *order.Engine
	Reputation  *reputation.Tracker
	Equivocation *equivocation.Guard
	Transport   iface.Transport
	// Metrics records HeadersBuilt, CertificatesFormed,
	// CertificatesInserted, DAGSize and RoundDuration. Optional; nil
	// disables metrics recording.
	Metrics *metrics.Metrics
}

// New constructs a Runner. Use the package-level Build helper to build
// a fully assembled Runner plus its component graph from a smaller set
// of primitive dependencies.
func New(cfg Config) *Runner {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &Runner{
		self:         cfg.Self,
		log:          l,
		committees:   cfg.Committees,
		dag:          cfg.DAG,
		batcher:      cfg.Batcher,
		builder:      cfg.Builder,
		broadcaster:  cfg.Broadcaster,
		syncer:       cfg.Syncer,
		leaders:      cfg.Leaders,
		ordering:     cfg.Ordering,
		reputation:   cfg.Reputation,
		equivocation: cfg.Equivocation,
		metrics:      cfg.Metrics,
		transport:    cfg.Transport,
		round:        1,
	}
}

// SubmitTransaction buffers a transaction for inclusion in a future
// batch.
func (r *Runner) SubmitTransaction(tx []byte) {
	r.batcher.Submit(tx)
}

// Tick drives round advancement: it attempts to build and broadcast a
// header for the current round, advances the local round on success,
// and advances the ordering engine over whatever anchor rounds are
// now decidable.
func (r *Runner) Tick(ctx context.Context) (*wire.Header, []wire.Digest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, built, err := r.builder.TryBuild(r.round)
	if err != nil {
		return nil, nil, errors.Wrap(err, "runner: build header")
	}
	if built {
		if _, err := r.equivocation.Observe(h); err != nil && !errors.Is(err, equivocation.ErrNoConflict) {
			return nil, nil, errors.Wrap(err, "runner: local equivocation guard")
		}
		r.broadcaster.Propose(h)
		if r.transport != nil {
			payload, err := marshalHeader(h)
			if err != nil {
				return nil, nil, errors.Wrap(err, "runner: marshal header")
			}
			if err := r.transport.Broadcast(ctx, topicHeaders, payload); err != nil {
				r.log.Warn("runner: broadcast header failed", "err", err)
			}
		}
		if r.metrics != nil {
			r.metrics.HeadersBuilt.Inc()
			if !r.lastTick.IsZero() {
				r.metrics.RoundDuration.Observe(time.Since(r.lastTick).Seconds())
			}
			r.lastTick = time.Now()
		}
		r.round++
	}

	delivered, err := r.ordering.Advance(r.round)
	return h, delivered, err
}

const (
	topicHeaders      = "consensus/headers"
	topicVotes        = "consensus/votes"
	topicCertificates = "consensus/certificates"
)

// HandleDraftHeader processes a header received from a peer: it runs
// the reliable-broadcast voter-side checks and, on success, either
// returns a vote to send back to the author or records an
// equivocation proof.
func (r *Runner) HandleDraftHeader(h *wire.Header) (*wire.Vote, *wire.Equivocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if proof, err := r.equivocation.Observe(h); err == nil {
		return nil, proof, nil
	} else if !errors.Is(err, equivocation.ErrNoConflict) {
		return nil, nil, err
	}

	vote, equiv, err := r.broadcaster.OnDraftHeader(h)
	if err != nil {
		if errors.Is(err, broadcast.ErrAlreadyVoted) {
			return nil, nil, nil // the equivocation guard already recorded this
		}
		return nil, nil, err
	}
	r.reputation.Observe(h.Author, uint64(h.Round), reputation.Produced)
	return vote, equiv, nil
}

// HandleVote processes a vote for a header this node authored. Once
// quorum is reached it inserts the resulting certificate into the DAG
// and broadcasts it.
func (r *Runner) HandleVote(ctx context.Context, vote *wire.Vote) (*wire.Certificate, error) {
	r.mu.Lock()
	cert, done, err := r.broadcaster.OnVote(vote)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, nil
	}
	if r.metrics != nil {
		r.metrics.CertificatesFormed.Inc()
	}
	if _, err := r.IngestCertificate(ctx, cert); err != nil {
		return nil, err
	}
	if r.transport != nil {
		payload, err := marshalCertificate(cert)
		if err != nil {
			return cert, errors.Wrap(err, "runner: marshal certificate")
		}
		if err := r.transport.Broadcast(ctx, topicCertificates, payload); err != nil {
			r.log.Warn("runner: broadcast certificate failed", "err", err)
		}
	}
	return cert, nil
}

// IngestCertificate attempts to insert cert into the DAG, invoking the
// Synchronizer on missing parents and the Ordering Engine on every
// successful insertion.
func (r *Runner) IngestCertificate(ctx context.Context, cert *wire.Certificate) ([]wire.Digest, error) {
	r.mu.Lock()
	result, missing, err := r.dag.Insert(cert)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if result == dagstore.Inserted && r.metrics != nil {
		r.metrics.CertificatesInserted.Inc()
		r.metrics.DAGSize.Set(float64(r.dag.Len()))
	}

	switch result {
	case dagstore.AlreadyPresent:
		return nil, nil
	case dagstore.MissingParents:
		if r.syncer == nil || r.transport == nil {
			return nil, nil
		}
		for _, voter := range cert.SortedVoters() {
			if voter == r.self {
				continue
			}
			stillMissing, err := r.syncer.FetchMissing(ctx, voter, missing)
			if err != nil {
				continue
			}
			if len(stillMissing) == 0 {
				r.mu.Lock()
				result2, _, err2 := r.dag.Insert(cert)
				r.mu.Unlock()
				if err2 == nil && result2 == dagstore.Inserted {
					if r.metrics != nil {
						r.metrics.CertificatesInserted.Inc()
						r.metrics.DAGSize.Set(float64(r.dag.Len()))
					}
					break
				}
			}
		}
		r.mu.Lock()
		ok := r.dag.Has(cert.Digest())
		r.mu.Unlock()
		if !ok {
			return nil, nil
		}
	}

	r.recordParentInclusion(cert)
	r.mu.Lock()
	delivered, err := r.ordering.Advance(r.round)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.deliver(delivered)
	return delivered, nil
}

func (r *Runner) recordParentInclusion(cert *wire.Certificate) {
	comm, err := r.committees.Resolve(uint64(cert.Header.Round))
	if err != nil {
		return
	}
	var weight uint64
	for _, p := range cert.Header.Parents {
		parent, ok := r.dag.Get(p)
		if !ok {
			continue
		}
		weight += comm.Weight(parent.Header.Author)
	}
	if weight >= comm.Quorum {
		for _, p := range cert.Header.Parents {
			parent, ok := r.dag.Get(p)
			if !ok {
				continue
			}
			r.reputation.Observe(parent.Header.Author, uint64(cert.Header.Round), reputation.Included)
		}
	}
}

func (r *Runner) deliver(digests []wire.Digest) {
	if r.OnDeliver == nil {
		return
	}
	for _, d := range digests {
		cert, ok := r.dag.Get(d)
		if !ok {
			continue
		}
		r.OnDeliver(d, cert)
	}
}

// HandleSyncRequest answers a peer's SyncRequest from the local DAG
// store.
func (r *Runner) HandleSyncRequest(req *wire.SyncRequest) *wire.SyncResponse {
	return sy.Respond(r.dag, req)
}

// Round returns the runner's current local round.
func (r *Runner) Round() wire.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.round
}

// LoadFromDisk recovers DAG state after a restart: anything derived
// from DAG contents is recomputable from the store alone.
func (r *Runner) LoadFromDisk() error {
	return r.dag.LoadFromDisk()
}
