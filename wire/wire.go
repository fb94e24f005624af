// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wire defines the on-the-wire and on-disk data model of the
// DAG-BFT consensus core: headers, votes, certificates and the
// synchronizer/equivocation messages that travel between validators.
// Digests are computed over the fixed byte layout in canonical.go, not
// over the JSON produced by package codec, so that they are
// reproducible across independent implementations.
package wire

import (
	"crypto/sha256"
	"sort"
	"time"

	"github.com/luxfi/ids"
)

// Digest is a 32-byte content hash over a canonicalized serialization
// of its subject.
type Digest [32]byte

// EmptyDigest is the zero digest. Round-1 headers carry no parent
// digests at all; genesis parents are implicit.
var EmptyDigest Digest

// Bytes returns the digest's raw bytes.
func (d Digest) Bytes() []byte { return d[:] }

// Compare gives Digest a total order, used for tie-breaking in
// linearization.
func (d Digest) Compare(o Digest) int {
	for i := range d {
		if d[i] != o[i] {
			if d[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (d Digest) String() string {
	return ids.ID(d).String()
}

// HashOf computes a SHA-256 Digest over already-canonicalized bytes. It
// is the hasher for every digest in this module; iface.KeyService
// signs and verifies but does not hash.
func HashOf(b []byte) Digest {
	return sha256.Sum256(b)
}

// Round is a monotonically increasing round number; genesis
// certificates live at round 0.
type Round uint64

// BatchDigest identifies an immutable, sealed batch of transactions.
type BatchDigest Digest

// Header is a round-r proposal authored by a single validator,
// referencing a quorum of round-(r-1) certificates.
type Header struct {
	Author         ids.NodeID    `json:"author"`
	Round          Round         `json:"round"`
	Parents        []Digest      `json:"parents"`
	Batches        []BatchDigest `json:"batches"`
	Timestamp      time.Time     `json:"timestamp"`
	AuthorSig      []byte        `json:"author_sig"`
}

// SortedParents returns a copy of Parents in canonical (ascending)
// order, used both for deterministic serialization and for quorum
// counting.
func (h *Header) SortedParents() []Digest {
	out := make([]Digest, len(h.Parents))
	copy(out, h.Parents)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Digest computes the header's content-addressed identifier over its
// canonical serialization (author, round, sorted parents, sorted
// batches, timestamp — signature excluded).
func (h *Header) Digest() Digest {
	return HashOf(canonicalHeaderBytes(h))
}

// Vote is a single validator's attestation of a header
// (header_digest, voter, signature). A voter issues at most one vote
// per (author, round).
type Vote struct {
	HeaderDigest Digest     `json:"header_digest"`
	Voter        ids.NodeID `json:"voter"`
	VoterSig     []byte     `json:"voter_sig"`
}

// Certificate binds a Header to a quorum of distinct voter signatures.
// Its own digest is hash(header_digest || sorted voter set) so all
// honest nodes compute the same identifier for the same certified
// header.
type Certificate struct {
	Header Header          `json:"header"`
	Votes  []SignedVoter   `json:"votes"`
}

// SignedVoter is one (voter, signature) pair aggregated into a
// certificate.
type SignedVoter struct {
	Voter ids.NodeID `json:"voter"`
	Sig   []byte     `json:"sig"`
}

// SortedVoters returns the certificate's voter set in canonical
// ascending order.
func (c *Certificate) SortedVoters() []ids.NodeID {
	out := make([]ids.NodeID, len(c.Votes))
	for i, v := range c.Votes {
		out[i] = v.Voter
	}
	sort.Slice(out, func(i, j int) bool { return nodeIDLess(out[i], out[j]) })
	return out
}

// HeaderDigest is the digest of the embedded header.
func (c *Certificate) HeaderDigest() Digest {
	return c.Header.Digest()
}

// Digest computes the certificate digest: hash(header_digest || sorted
// voter set).
func (c *Certificate) Digest() Digest {
	hd := c.HeaderDigest()
	buf := make([]byte, 0, len(hd)+len(c.Votes)*20)
	buf = append(buf, hd[:]...)
	for _, v := range c.SortedVoters() {
		buf = append(buf, v[:]...)
	}
	return HashOf(buf)
}

// SyncRequest asks peers for a set of missing certificate digests.
type SyncRequest struct {
	Digests []Digest `json:"digests"`
}

// SyncResponse answers a SyncRequest with whatever certificates the
// responder has, and explicitly names what it does not.
type SyncResponse struct {
	Certificates []Certificate `json:"certificates"`
	Missing      []Digest      `json:"missing"`
}

// Equivocation records two distinct headers by the same author at the
// same round.
type Equivocation struct {
	HeaderA Header `json:"header_a"`
	HeaderB Header `json:"header_b"`
}

// Author returns the common author of the two conflicting headers.
func (e *Equivocation) Author() ids.NodeID { return e.HeaderA.Author }

// Round returns the common round of the two conflicting headers.
func (e *Equivocation) Round() Round { return e.HeaderA.Round }

func nodeIDLess(a, b ids.NodeID) bool {
	return a.Compare(b) < 0
}
