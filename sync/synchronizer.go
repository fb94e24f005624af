// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sync implements the Synchronizer: when the DAG store rejects
// an insert for missing parents, the synchronizer fetches the missing
// certificates from peers, verifies and inserts them (which may itself
// surface further missing parents), and bounds its own fan-out so a
// single gap cannot exhaust local resources.
package sync

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/metrics"
	"github.com/luxfi/dagconsensus/wire"
)

// ErrBudgetExhausted is returned when a digest cannot be scheduled
// because every configured peer slot is already saturated; the
// digest is parked for a later retry instead.
var ErrBudgetExhausted = errors.New("sync: fetch budget exhausted, parked")

// ErrNoPeers is returned when a fetch is requested but no peer is
// known to ask.
var ErrNoPeers = errors.New("sync: no peers available")

// Config bundles the Synchronizer's dependencies and tunables.
type Config struct {
	Transport iface.Transport
	DAG       *dagstore.Store
	Log       log.Logger
	// Metrics records SyncRequestsSent and SyncStalls. Optional; nil
	// disables metrics recording.
	Metrics *metrics.Metrics

	// MaxInFlightPerPeer bounds concurrent outstanding requests to a
	// single peer.
	MaxInFlightPerPeer int
	// RequestTimeout bounds a single fetch round-trip.
	RequestTimeout time.Duration
	// BaseBackoff and MaxBackoff govern the exponential backoff applied
	// to a digest that repeatedly fails to resolve.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns conservative synchronizer tunables.
func DefaultConfig() Config {
	return Config{
		MaxInFlightPerPeer: 4,
		RequestTimeout:     2 * time.Second,
		BaseBackoff:        100 * time.Millisecond,
		MaxBackoff:         10 * time.Second,
	}
}

type digestState struct {
	attempts int
	parked   bool
	nextTry  time.Time
}

// Synchronizer chases missing DAG parents across the peer set. It runs
// no task of its own; FetchMissing is its only mutating entry point.
type Synchronizer struct {
	cfg Config
	log log.Logger

	mu       sync.Mutex
	inFlight map[ids.NodeID]int
	parked   map[wire.Digest]*digestState
}

// New constructs a Synchronizer.
func New(cfg Config) *Synchronizer {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	if cfg.MaxInFlightPerPeer <= 0 {
		cfg.MaxInFlightPerPeer = DefaultConfig().MaxInFlightPerPeer
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	return &Synchronizer{
		cfg:      cfg,
		log:      l,
		inFlight: make(map[ids.NodeID]int),
		parked:   make(map[wire.Digest]*digestState),
	}
}

// reserve attempts to claim one of peer's request slots. Callers must
// call release when the request completes.
func (s *Synchronizer) reserve(peer ids.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[peer] >= s.cfg.MaxInFlightPerPeer {
		return false
	}
	s.inFlight[peer]++
	return true
}

func (s *Synchronizer) release(peer ids.NodeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[peer]--
}

// FetchMissing requests the given digests from peer, verifies and
// recursively inserts whatever certificates come back (a response may
// itself reveal further missing parents, which are fetched from the
// same peer in turn), and reports any digests the peer could not
// supply. It enforces the per-peer in-flight budget.
func (s *Synchronizer) FetchMissing(ctx context.Context, peer ids.NodeID, digests []wire.Digest) ([]wire.Digest, error) {
	if !s.reserve(peer) {
		s.park(digests)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.SyncStalls.Inc()
		}
		return nil, errors.Wrapf(ErrBudgetExhausted, "peer %s", peer)
	}
	defer s.release(peer)

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	req := wire.SyncRequest{Digests: digests}
	payload, err := codec.Codec.Marshal(codec.CurrentVersion, req)
	if err != nil {
		return nil, errors.Wrap(err, "sync: marshal request")
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SyncRequestsSent.Inc()
	}
	raw, err := s.cfg.Transport.Send(reqCtx, peer, payload)
	if err != nil {
		s.recordFailure(digests)
		return nil, errors.Wrapf(err, "sync: send to %s", peer)
	}

	var resp wire.SyncResponse
	if _, err := codec.Codec.Unmarshal(raw, &resp); err != nil {
		s.recordFailure(digests)
		return nil, errors.Wrap(err, "sync: unmarshal response")
	}

	var stillMissing []wire.Digest
	for i := range resp.Certificates {
		cert := &resp.Certificates[i]
		result, missingParents, err := s.cfg.DAG.Insert(cert)
		if err != nil {
			s.log.Warn("sync: rejected certificate from peer", "peer", peer, "err", err)
			continue
		}
		if result == dagstore.MissingParents {
			// Chase the gap further back before giving up on this
			// certificate.
			grandchildren, err := s.FetchMissing(ctx, peer, missingParents)
			if err != nil {
				stillMissing = append(stillMissing, missingParents...)
				continue
			}
			stillMissing = append(stillMissing, grandchildren...)
			// Retry this certificate now that its parents may be present.
			if result2, _, err := s.cfg.DAG.Insert(cert); err == nil && result2 == dagstore.Inserted {
				s.clear(cert.Digest())
			}
		} else {
			s.clear(cert.Digest())
		}
	}
	stillMissing = append(stillMissing, resp.Missing...)
	if len(stillMissing) > 0 {
		s.recordFailure(stillMissing)
	}
	return stillMissing, nil
}

func (s *Synchronizer) park(digests []wire.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range digests {
		st, ok := s.parked[d]
		if !ok {
			st = &digestState{}
			s.parked[d] = st
		}
		st.parked = true
	}
}

func (s *Synchronizer) recordFailure(digests []wire.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range digests {
		st, ok := s.parked[d]
		if !ok {
			st = &digestState{}
			s.parked[d] = st
		}
		st.attempts++
		st.parked = true
		st.nextTry = time.Now().Add(s.backoffFor(st.attempts))
	}
}

func (s *Synchronizer) clear(d wire.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parked, d)
}

// backoffFor computes an exponential backoff with jitter, capped at
// MaxBackoff.
func (s *Synchronizer) backoffFor(attempts int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempts && d < s.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > s.cfg.MaxBackoff {
		d = s.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

// Ready returns the parked digests whose backoff has elapsed and are
// due for another fetch attempt.
func (s *Synchronizer) Ready() []wire.Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []wire.Digest
	for d, st := range s.parked {
		if st.parked && (st.nextTry.IsZero() || !now.Before(st.nextTry)) {
			out = append(out, d)
		}
	}
	return out
}

// Parked reports how many digests are currently awaiting resolution,
// for liveness metrics.
func (s *Synchronizer) Parked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

// Respond is the peer-facing side: it answers a SyncRequest with
// whatever certificates the local DAG store holds, naming the rest as
// missing.
func Respond(dag *dagstore.Store, req *wire.SyncRequest) *wire.SyncResponse {
	resp := &wire.SyncResponse{}
	for _, d := range req.Digests {
		if cert, ok := dag.Get(d); ok {
			resp.Certificates = append(resp.Certificates, *cert)
		} else {
			resp.Missing = append(resp.Missing, d)
		}
	}
	return resp
}
