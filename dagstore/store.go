// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dagstore is the persistent, append-only certificate DAG. It
// enforces causal completeness on insert and maintains forward
// (cert -> parents) and reverse (cert -> children) indices over a
// key-value iface.Storage.
package dagstore

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/storage"
	"github.com/luxfi/dagconsensus/wire"
)

// InsertResult is the outcome of attempting to insert a certificate.
type InsertResult int

const (
	// Inserted indicates the certificate was newly stored.
	Inserted InsertResult = iota
	// AlreadyPresent indicates the digest was already stored; the
	// store is unchanged (idempotent insert).
	AlreadyPresent
	// MissingParents indicates the certificate was rejected because
	// one or more parent digests are not yet stored; the caller
	// should park it and invoke the synchronizer.
	MissingParents
)

// roundAuthorKey is the in-memory index key for (round, author).
type roundAuthorKey struct {
	round  wire.Round
	author ids.NodeID
}

// Store is owned exclusively by the consensus task; all mutating
// operations are serialized by the embedded mutex, matching the
// single-writer model the DAG requires.
type Store struct {
	mu sync.RWMutex

	db   iface.Storage
	log  log.Logger
	keys iface.KeyService

	committees *committee.Provider

	certificates  map[wire.Digest]*wire.Certificate
	byRoundAuthor map[roundAuthorKey]wire.Digest
	children      map[wire.Digest][]wire.Digest

	watermark wire.Round

	sigCache map[sigCacheKey]bool
}

type sigCacheKey struct {
	header wire.Digest
	voter  ids.NodeID
}

// Config bundles Store's dependencies.
type Config struct {
	DB         iface.Storage
	Log        log.Logger
	Committees *committee.Provider
	// Keys verifies each vote signature in a certificate before it is
	// admitted. Optional; nil skips signature verification (the voter
	// set and quorum weight are still enforced), matching the
	// uninstrumented test doubles that construct a Store directly.
	Keys iface.KeyService
}

// New constructs an empty Store. Callers that are resuming from disk
// should follow with LoadFromDisk.
func New(cfg Config) *Store {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &Store{
		db:            cfg.DB,
		log:           l,
		keys:          cfg.Keys,
		committees:    cfg.Committees,
		certificates:  make(map[wire.Digest]*wire.Certificate),
		byRoundAuthor: make(map[roundAuthorKey]wire.Digest),
		children:      make(map[wire.Digest][]wire.Digest),
		sigCache:      make(map[sigCacheKey]bool),
	}
}

// ErrBadQuorum is returned when a certificate's voter set does not meet
// the quorum weight required at its round.
var ErrBadQuorum = errors.New("dagstore: certificate does not carry quorum weight")

// ErrDuplicateVoter is returned when a certificate lists the same
// voter twice.
var ErrDuplicateVoter = errors.New("dagstore: duplicate voter in certificate")

// ErrNotCommitteeMember is returned when a voter or author is not a
// member of the committee at the relevant round.
var ErrNotCommitteeMember = errors.New("dagstore: signer not a committee member")

// ErrWrongParentRound is returned when a parent digest does not live
// at round-1 of the child header.
var ErrWrongParentRound = errors.New("dagstore: parent certificate at wrong round")

// ErrBadVoteSignature is returned when a certificate carries a vote
// whose signature does not verify over the header digest.
var ErrBadVoteSignature = errors.New("dagstore: invalid vote signature")

// Insert attempts to add cert to the DAG. It enforces causal
// completeness (every parent digest must already be stored), quorum
// sealing, committee membership and parent-round invariants.
func (s *Store) Insert(cert *wire.Certificate) (InsertResult, []wire.Digest, error) {
	digest := cert.Digest()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.certificates[digest]; ok {
		return AlreadyPresent, nil, nil
	}

	if err := s.verify(cert); err != nil {
		return 0, nil, err
	}

	missing := s.missingParents(cert)
	if len(missing) > 0 {
		return MissingParents, missing, nil
	}

	s.store(digest, cert)
	if err := s.Persist(digest, cert); err != nil {
		return 0, nil, err
	}
	return Inserted, nil, nil
}

// verify checks quorum weight, distinct voters, committee membership,
// per-voter signatures and the header's own parent-round invariant.
// Signature verification is cached by (header digest, voter): once a
// voter's signature over a given header has been checked once, a later
// certificate or sync response repeating that same (header, voter)
// pair is accepted from cache without re-running the KeyService.
func (s *Store) verify(cert *wire.Certificate) error {
	if s.committees == nil {
		return nil // test doubles may omit committee enforcement
	}
	comm, err := s.committees.Resolve(uint64(cert.Header.Round))
	if err != nil {
		return errors.Wrap(err, "dagstore: resolve committee")
	}
	if !comm.IsMember(cert.Header.Author) {
		return errors.Wrapf(ErrNotCommitteeMember, "author %s at round %d", cert.Header.Author, cert.Header.Round)
	}

	headerDigest := cert.HeaderDigest()
	seen := make(map[ids.NodeID]struct{}, len(cert.Votes))
	var weight uint64
	for _, v := range cert.Votes {
		if _, dup := seen[v.Voter]; dup {
			return errors.Wrapf(ErrDuplicateVoter, "voter %s", v.Voter)
		}
		seen[v.Voter] = struct{}{}
		if !comm.IsMember(v.Voter) {
			return errors.Wrapf(ErrNotCommitteeMember, "voter %s at round %d", v.Voter, cert.Header.Round)
		}
		if !s.verifyVoteSigLocked(headerDigest, v) {
			return errors.Wrapf(ErrBadVoteSignature, "voter %s", v.Voter)
		}
		weight += comm.Weight(v.Voter)
	}
	if weight < comm.Quorum {
		return errors.Wrapf(ErrBadQuorum, "have %d need %d", weight, comm.Quorum)
	}

	if cert.Header.Round > 1 {
		parentRound := cert.Header.Round - 1
		for _, p := range cert.Header.Parents {
			parent, ok := s.certificates[p]
			if ok && parent.Header.Round != parentRound {
				return errors.Wrapf(ErrWrongParentRound, "parent %s at round %d, want %d", p, parent.Header.Round, parentRound)
			}
		}
	}
	return nil
}

// verifyVoteSigLocked reports whether v's signature verifies over
// headerDigest, consulting and populating the signature cache. Must be
// called with s.mu held. A nil KeyService (test doubles) is treated as
// always-valid, matching prior behavior where no KeyService was wired.
func (s *Store) verifyVoteSigLocked(headerDigest wire.Digest, v wire.SignedVoter) bool {
	if ok, cached := s.isVerifiedLocked(headerDigest, v.Voter); cached {
		return ok
	}
	ok := s.keys == nil || s.keys.Verify(v.Voter, headerDigest[:], v.Sig)
	s.cacheVerifiedLocked(headerDigest, v.Voter, ok)
	return ok
}

// missingParents returns the subset of cert's declared parents not yet
// stored.
func (s *Store) missingParents(cert *wire.Certificate) []wire.Digest {
	var missing []wire.Digest
	for _, p := range cert.Header.Parents {
		if _, ok := s.certificates[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// store records cert under digest and updates the round/author and
// children indices. Must be called with s.mu held.
func (s *Store) store(digest wire.Digest, cert *wire.Certificate) {
	s.certificates[digest] = cert
	key := roundAuthorKey{round: cert.Header.Round, author: cert.Header.Author}
	if _, exists := s.byRoundAuthor[key]; !exists {
		s.byRoundAuthor[key] = digest
	}
	for _, p := range cert.Header.Parents {
		s.children[p] = append(s.children[p], digest)
	}
	s.log.Debug("dag: certificate inserted", "digest", digest, "round", cert.Header.Round, "author", cert.Header.Author)
}

// Get returns the certificate stored under digest.
func (s *Store) Get(digest wire.Digest) (*wire.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certificates[digest]
	return c, ok
}

// GetByAuthorRound returns the committed digest authored by author at
// round, if any: at most one per committed view.
func (s *Store) GetByAuthorRound(round wire.Round, author ids.NodeID) (wire.Digest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byRoundAuthor[roundAuthorKey{round: round, author: author}]
	return d, ok
}

// ByRound returns every certificate digest stored at round, in no
// particular order (callers needing determinism should sort).
func (s *Store) ByRound(round wire.Round) []wire.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []wire.Digest
	for k, d := range s.byRoundAuthor {
		if k.round == round {
			out = append(out, d)
		}
	}
	return out
}

// Children returns the digests of certificates that list digest as a
// parent (the reverse edge index).
func (s *Store) Children(digest wire.Digest) []wire.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Digest, len(s.children[digest]))
	copy(out, s.children[digest])
	return out
}

// Has reports whether digest is stored.
func (s *Store) Has(digest wire.Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.certificates[digest]
	return ok
}

// PathExists reports whether to is reachable from from by following
// children edges, i.e. whether from is an ancestor of to. It performs a
// bounded forward BFS over the children index; because the DAG is
// leveled by round (parents strictly at round-1) the search is bounded
// by the round distance between from and to.
func (s *Store) PathExists(from, to wire.Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == to {
		return true
	}
	toCert, ok := s.certificates[to]
	if !ok {
		return false
	}
	fromCert, ok := s.certificates[from]
	if !ok {
		return false
	}
	if fromCert.Header.Round > toCert.Header.Round {
		return false
	}

	visited := map[wire.Digest]bool{from: true}
	queue := []wire.Digest{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, child := range s.children[cur] {
			if visited[child] {
				continue
			}
			childCert := s.certificates[child]
			if childCert != nil && childCert.Header.Round > toCert.Header.Round {
				continue
			}
			visited[child] = true
			queue = append(queue, child)
		}
	}
	return false
}

// CausalHistory returns the transitive parent closure of digest,
// restricted to certificates with round > afterRound (exclusive) and
// round <= digest's own round (inclusive), used by the ordering engine
// to linearize between two committed anchors.
func (s *Store) CausalHistory(digest wire.Digest, afterRound wire.Round) []wire.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visited := map[wire.Digest]bool{}
	var out []wire.Digest
	var walk func(d wire.Digest)
	walk = func(d wire.Digest) {
		if visited[d] {
			return
		}
		visited[d] = true
		cert, ok := s.certificates[d]
		if !ok || cert.Header.Round <= afterRound {
			return
		}
		out = append(out, d)
		for _, p := range cert.Header.Parents {
			walk(p)
		}
	}
	walk(digest)
	return out
}

// Len returns the number of certificates currently held in the store,
// for gauge-style liveness metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.certificates)
}

// Watermark returns the current commit watermark, below which
// certificates may be pruned.
func (s *Store) Watermark() wire.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watermark
}

// PruneBelow advances the commit watermark and drops stored
// certificates whose round is strictly below it. Certificates above
// the watermark are never touched: the store is append-only above the
// watermark.
func (s *Store) PruneBelow(round wire.Round) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if round <= s.watermark {
		return
	}
	s.watermark = round
	for key, digest := range s.byRoundAuthor {
		if key.round < round {
			delete(s.byRoundAuthor, key)
			delete(s.certificates, digest)
			delete(s.children, digest)
		}
	}
}

// CacheVerified records that voter's signature over header has already
// been checked, so repeated sync responses skip re-verification.
func (s *Store) CacheVerified(header wire.Digest, voter ids.NodeID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheVerifiedLocked(header, voter, ok)
}

// IsVerified reports whether voter's signature over header was
// previously cached, and its cached result.
func (s *Store) IsVerified(header wire.Digest, voter ids.NodeID) (ok, cached bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isVerifiedLocked(header, voter)
}

func (s *Store) cacheVerifiedLocked(header wire.Digest, voter ids.NodeID, ok bool) {
	s.sigCache[sigCacheKey{header: header, voter: voter}] = ok
}

func (s *Store) isVerifiedLocked(header wire.Digest, voter ids.NodeID) (ok, cached bool) {
	ok, cached = s.sigCache[sigCacheKey{header: header, voter: voter}]
	return ok, cached
}

// Persist writes cert to the backing iface.Storage under the
// persisted key layout (cert/<digest>, by_author/<round>/<author>,
// parents/<digest>/<parent>, children/<parent>/<digest>). It is called
// after a successful in-memory Insert; storage errors are reported to
// the caller so the consensus task can treat them as fatal.
func (s *Store) Persist(digest wire.Digest, cert *wire.Certificate) error {
	if s.db == nil {
		return nil
	}
	raw, err := marshalCertificate(cert)
	if err != nil {
		return errors.Wrap(err, "dagstore: marshal certificate")
	}
	if err := s.db.Put(storage.CertKey(digest), raw); err != nil {
		return errors.Wrap(err, "dagstore: persist certificate")
	}
	if err := s.db.Put(storage.ByAuthorKey(cert.Header.Round, cert.Header.Author), digest[:]); err != nil {
		return errors.Wrap(err, "dagstore: persist by_author index")
	}
	for _, p := range cert.Header.Parents {
		if err := s.db.Put(storage.ParentEdgeKey(digest, p), nil); err != nil {
			return errors.Wrap(err, "dagstore: persist parent edge")
		}
		if err := s.db.Put(storage.ChildEdgeKey(p, digest), nil); err != nil {
			return errors.Wrap(err, "dagstore: persist child edge")
		}
	}
	return nil
}

// LoadFromDisk rebuilds the in-memory indices by scanning the cert/
// prefix of the backing store. It is the crash-recovery path: anything
// derived from DAG contents is recomputable from the store alone.
func (s *Store) LoadFromDisk() error {
	if s.db == nil {
		return nil
	}
	it, err := s.db.Range([]byte(storage.PrefixCert))
	if err != nil {
		return errors.Wrap(err, "dagstore: range cert/")
	}
	defer it.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for it.Next() {
		cert, err := unmarshalCertificate(it.Value())
		if err != nil {
			return errors.Wrap(err, "dagstore: unmarshal certificate")
		}
		digest := cert.Digest()
		s.store(digest, cert)
	}
	return nil
}
