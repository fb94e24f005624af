// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package committee resolves validator membership, weights and quorum
// thresholds for a round window. A Committee is a pure function of an
// externally supplied epoch identifier: the caller (package
// iface.EpochProvider) guarantees the same identifier yields the same
// committee on every honest node.
package committee

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/dagconsensus/iface"
)

// ErrUnknownEpoch is returned when no committee snapshot exists for a
// requested epoch.
var ErrUnknownEpoch = errors.New("committee: unknown epoch")

// Committee is an immutable snapshot of validator identities, public
// weights and the quorum/validity thresholds derived from them.
type Committee struct {
	Epoch       uint64
	members     []ids.NodeID // sorted ascending
	index       map[ids.NodeID]int
	weight      map[ids.NodeID]uint64
	TotalWeight uint64
	Quorum      uint64 // floor(2n/3) + 1
	Validity    uint64 // floor(n/3) + 1
}

// New builds a Committee snapshot from a raw membership list, computing
// quorum per the standard 2f+1 Byzantine quorum rule generalized to
// weighted voting power.
func New(epoch uint64, m iface.Members) *Committee {
	members := make([]ids.NodeID, len(m.Members))
	copy(members, m.Members)
	sort.Slice(members, func(i, j int) bool { return members[i].Compare(members[j]) < 0 })

	weight := make(map[ids.NodeID]uint64, len(members))
	index := make(map[ids.NodeID]int, len(members))
	var total uint64
	for i, id := range members {
		w := uint64(1)
		if m.Weights != nil {
			if got, ok := m.Weights[id]; ok && got > 0 {
				w = got
			}
		}
		weight[id] = w
		index[id] = i
		total += w
	}

	return &Committee{
		Epoch:       epoch,
		members:     members,
		index:       index,
		weight:      weight,
		TotalWeight: total,
		Quorum:      QuorumOf(total),
		Validity:    ValidityOf(total),
	}
}

// QuorumOf computes floor(2n/3)+1 over a total weight n.
func QuorumOf(total uint64) uint64 {
	return (2*total)/3 + 1
}

// ValidityOf computes floor(n/3)+1 over a total weight n, the minimum
// weight that cannot be entirely Byzantine.
func ValidityOf(total uint64) uint64 {
	return total/3 + 1
}

// Members returns the committee membership, sorted ascending by
// ValidatorID.
func (c *Committee) Members() []ids.NodeID {
	out := make([]ids.NodeID, len(c.members))
	copy(out, c.members)
	return out
}

// Len returns the committee size.
func (c *Committee) Len() int { return len(c.members) }

// IsMember reports whether id is a member of this committee.
func (c *Committee) IsMember(id ids.NodeID) bool {
	_, ok := c.index[id]
	return ok
}

// Weight returns id's voting weight, or 0 if it is not a member.
func (c *Committee) Weight(id ids.NodeID) uint64 {
	return c.weight[id]
}

// IndexOf returns id's position in the sorted member list, used by
// leader election. ok is false if id is not a member.
func (c *Committee) IndexOf(id ids.NodeID) (int, bool) {
	idx, ok := c.index[id]
	return idx, ok
}

// MemberAt returns the member at sorted position i.
func (c *Committee) MemberAt(i int) ids.NodeID {
	return c.members[i%len(c.members)]
}

// Provider resolves committees per round via an iface.EpochProvider,
// caching one Committee per epoch. Committees never change mid-epoch;
// membership changes take effect only at an epoch boundary.
type Provider struct {
	epochs   iface.EpochProvider
	cache    map[uint64]*Committee
}

// NewProvider wraps an EpochProvider with per-epoch committee caching.
func NewProvider(epochs iface.EpochProvider) *Provider {
	return &Provider{epochs: epochs, cache: make(map[uint64]*Committee)}
}

// Resolve returns the Committee effective for round r, building and
// caching it on first use.
func (p *Provider) Resolve(round uint64) (*Committee, error) {
	epoch := p.epochs.EpochOf(round)
	if c, ok := p.cache[epoch]; ok {
		return c, nil
	}
	members, err := p.epochs.CommitteeFor(epoch)
	if err != nil {
		return nil, errors.Wrapf(err, "committee: resolve epoch %d", epoch)
	}
	c := New(epoch, members)
	p.cache[epoch] = c
	return c, nil
}

// MembersAt returns the committee membership effective at round.
func (p *Provider) MembersAt(round uint64) ([]ids.NodeID, error) {
	c, err := p.Resolve(round)
	if err != nil {
		return nil, err
	}
	return c.Members(), nil
}

// QuorumAt returns the quorum weight effective at round.
func (p *Provider) QuorumAt(round uint64) (uint64, error) {
	c, err := p.Resolve(round)
	if err != nil {
		return 0, err
	}
	return c.Quorum, nil
}

// ValidityAt returns the validity weight effective at round.
func (p *Provider) ValidityAt(round uint64) (uint64, error) {
	c, err := p.Resolve(round)
	if err != nil {
		return 0, err
	}
	return c.Validity, nil
}

// IsMemberAt reports whether id is a committee member at round.
func (p *Provider) IsMemberAt(round uint64, id ids.NodeID) (bool, error) {
	c, err := p.Resolve(round)
	if err != nil {
		return false, err
	}
	return c.IsMember(id), nil
}

// WeightAt returns id's voting weight at round.
func (p *Provider) WeightAt(round uint64, id ids.NodeID) (uint64, error) {
	c, err := p.Resolve(round)
	if err != nil {
		return 0, err
	}
	return c.Weight(id), nil
}
