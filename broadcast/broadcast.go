// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broadcast implements the reliable-broadcast layer: an author
// distributes a header, collects a quorum of signed votes, and forms a
// certificate. Voters reject a second, different header from the same
// (author, round) with ErrAlreadyVoted; building the equivocation proof
// is left to the caller.
package broadcast

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/wire"
)

// State is the lifecycle of a locally authored header: Proposing ->
// Collecting -> Certified | Aborted.
type State int

const (
	Proposing State = iota
	Collecting
	Certified
	Aborted
)

// Session tracks a single locally authored header's progress toward
// certification.
type Session struct {
	Header Header
	State  State

	votes  map[ids.NodeID]wire.SignedVoter
	weight uint64
}

// Header is an alias kept local so callers don't need to import wire
// for the common case of holding a *wire.Header.
type Header = wire.Header

var (
	// ErrBadAuthorSig is returned when a draft header's author
	// signature does not verify.
	ErrBadAuthorSig = errors.New("broadcast: invalid author signature")
	// ErrNotCommitteeMember is returned when the author or a voter is
	// not a member of the committee at the header's round.
	ErrNotCommitteeMember = errors.New("broadcast: not a committee member")
	// ErrInsufficientParents is returned when a header's parent set is
	// smaller than quorum(round-1).
	ErrInsufficientParents = errors.New("broadcast: insufficient parent quorum")
	// ErrAlreadyVoted is returned internally when a voter has already
	// cast a vote for a *different* header at (author, round); callers
	// should treat this as an equivocation, not a hard failure.
	ErrAlreadyVoted = errors.New("broadcast: already voted for a different header at this (author, round)")
	// ErrUnknownSession is returned when a vote arrives for a header
	// this node is not the author of (or no longer tracks).
	ErrUnknownSession = errors.New("broadcast: unknown session")
)

type voterKey struct {
	author ids.NodeID
	round  wire.Round
}

// Broadcaster drives reliable broadcast for the local node: it is both
// the author-side accumulator (for headers it builds) and the
// voter-side verifier (for headers it receives). It is driven through
// its exported methods and does no network I/O itself; callers send
// its headers, votes and certificates over iface.Transport.
type Broadcaster struct {
	self       ids.NodeID
	committees *committee.Provider
	keys       iface.KeyService
	log        log.Logger

	mu       sync.Mutex
	sessions map[wire.Digest]*Session     // author-side, keyed by header digest
	votedFor map[voterKey]wire.Digest     // voter-side, one entry per (author, round)
}

// Config bundles Broadcaster's dependencies.
type Config struct {
	Self       ids.NodeID
	Committees *committee.Provider
	Keys       iface.KeyService
	Log        log.Logger
}

// New constructs a Broadcaster.
func New(cfg Config) *Broadcaster {
	l := cfg.Log
	if l == nil {
		l = log.NewNoOpLogger()
	}
	return &Broadcaster{
		self:       cfg.Self,
		committees: cfg.Committees,
		keys:       cfg.Keys,
		log:        l,
		sessions:   make(map[wire.Digest]*Session),
		votedFor:   make(map[voterKey]wire.Digest),
	}
}

// Propose begins reliable broadcast of a locally authored header: it
// opens a Collecting session awaiting votes. The caller is responsible
// for actually broadcasting h to the committee via iface.Transport.
func (b *Broadcaster) Propose(h *wire.Header) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	digest := h.Digest()
	s := &Session{Header: *h, State: Collecting, votes: make(map[ids.NodeID]wire.SignedVoter)}
	b.sessions[digest] = s
	return s
}

// OnDraftHeader is the voter-side handler for an incoming header. It
// verifies the author signature, committee membership and parent
// quorum, then checks for a prior vote by this node for the same
// (author, round). On a first delivery it returns the signed vote; a
// re-delivery of the same header returns all nils; a different header
// for an (author, round) already voted on returns ErrAlreadyVoted. The
// *wire.Equivocation result is always nil.
func (b *Broadcaster) OnDraftHeader(h *wire.Header) (*wire.Vote, *wire.Equivocation, error) {
	comm, err := b.committees.Resolve(uint64(h.Round))
	if err != nil {
		return nil, nil, err
	}
	if !comm.IsMember(h.Author) {
		return nil, nil, errors.Wrapf(ErrNotCommitteeMember, "author %s", h.Author)
	}
	if b.keys != nil && !b.keys.Verify(h.Author, digestBytes(h), h.AuthorSig) {
		return nil, nil, ErrBadAuthorSig
	}
	if h.Round > 1 {
		parentQuorum, err := b.committees.QuorumAt(uint64(h.Round - 1))
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(h.Parents)) < parentQuorum {
			return nil, nil, ErrInsufficientParents
		}
	}

	digest := h.Digest()

	b.mu.Lock()
	defer b.mu.Unlock()

	key := voterKey{author: h.Author, round: h.Round}
	if prior, ok := b.votedFor[key]; ok {
		if prior == digest {
			// Re-delivery of the same header; nothing new to do.
			return nil, nil, nil
		}
		// A second, distinct header from the same (author, round):
		// equivocation.
		return nil, nil, ErrAlreadyVoted
	}

	sig, err := b.sign(digest)
	if err != nil {
		return nil, nil, err
	}
	b.votedFor[key] = digest
	return &wire.Vote{HeaderDigest: digest, Voter: b.self, VoterSig: sig}, nil, nil
}

func (b *Broadcaster) sign(digest wire.Digest) ([]byte, error) {
	if b.keys == nil {
		return nil, nil
	}
	return b.keys.Sign(digest[:])
}

func digestBytes(h *wire.Header) []byte {
	d := h.Digest()
	return d[:]
}

// OnVote is the author-side accumulator. When distinct-voter weight
// reaches quorum(round) it assembles and returns a Certificate; the
// caller is responsible for broadcasting it.
func (b *Broadcaster) OnVote(vote *wire.Vote) (*wire.Certificate, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[vote.HeaderDigest]
	if !ok {
		return nil, false, errors.Wrapf(ErrUnknownSession, "digest %s", vote.HeaderDigest)
	}
	if s.State == Certified || s.State == Aborted {
		return nil, false, nil
	}

	comm, err := b.committees.Resolve(uint64(s.Header.Round))
	if err != nil {
		return nil, false, err
	}
	if !comm.IsMember(vote.Voter) {
		return nil, false, errors.Wrapf(ErrNotCommitteeMember, "voter %s", vote.Voter)
	}

	if _, dup := s.votes[vote.Voter]; dup {
		return nil, false, nil // already counted
	}
	s.votes[vote.Voter] = wire.SignedVoter{Voter: vote.Voter, Sig: vote.VoterSig}
	s.weight += comm.Weight(vote.Voter)

	if s.weight < comm.Quorum {
		return nil, false, nil
	}

	cert := assembleCertificate(s)
	s.State = Certified
	b.log.Info("broadcast: certificate formed", "digest", vote.HeaderDigest, "round", s.Header.Round)
	return cert, true, nil
}

func assembleCertificate(s *Session) *wire.Certificate {
	votes := make([]wire.SignedVoter, 0, len(s.votes))
	for _, v := range s.votes {
		votes = append(votes, v)
	}
	return &wire.Certificate{Header: s.Header, Votes: votes}
}

// Abort marks a session as abandoned (e.g. superseded by a later
// round) without ever reaching quorum. Aborting never changes the
// header's content — the header digest is fixed.
func (b *Broadcaster) Abort(digest wire.Digest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[digest]; ok && s.State != Certified {
		s.State = Aborted
	}
}

// SessionFor returns the tracked session for digest, if any (author-side
// only).
func (b *Broadcaster) SessionFor(digest wire.Digest) (*Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[digest]
	return s, ok
}
