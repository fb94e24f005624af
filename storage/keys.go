// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"

	"github.com/luxfi/ids"

	"github.com/luxfi/dagconsensus/wire"
)

// CertKey builds the cert/<digest> key.
func CertKey(d wire.Digest) []byte {
	return append([]byte(PrefixCert), d[:]...)
}

// ByAuthorKey builds the by_author/<round:be_u64>/<author> key.
func ByAuthorKey(round wire.Round, author ids.NodeID) []byte {
	k := make([]byte, 0, len(PrefixByAuthor)+8+len(author))
	k = append(k, PrefixByAuthor...)
	k = appendBE64(k, uint64(round))
	k = append(k, '/')
	k = append(k, author[:]...)
	return k
}

// ParentEdgeKey builds the parents/<digest>/<parent_digest> forward
// edge key.
func ParentEdgeKey(d, parent wire.Digest) []byte {
	k := make([]byte, 0, len(PrefixParents)+65)
	k = append(k, PrefixParents...)
	k = append(k, d[:]...)
	k = append(k, '/')
	k = append(k, parent[:]...)
	return k
}

// ChildEdgeKey builds the children/<parent>/<digest> reverse edge key.
func ChildEdgeKey(parent, d wire.Digest) []byte {
	k := make([]byte, 0, len(PrefixChildren)+65)
	k = append(k, PrefixChildren...)
	k = append(k, parent[:]...)
	k = append(k, '/')
	k = append(k, d[:]...)
	return k
}

// DeliveredKey builds the delivered/<round:be_u64>/<digest> key.
func DeliveredKey(round wire.Round, d wire.Digest) []byte {
	k := make([]byte, 0, len(PrefixDelivered)+8+1+32)
	k = append(k, PrefixDelivered...)
	k = appendBE64(k, uint64(round))
	k = append(k, '/')
	k = append(k, d[:]...)
	return k
}

// EquivocationKey builds the equivocation/<author>/<round:be_u64> key.
func EquivocationKey(author ids.NodeID, round wire.Round) []byte {
	k := make([]byte, 0, len(PrefixEquivocation)+len(author)+9)
	k = append(k, PrefixEquivocation...)
	k = append(k, author[:]...)
	k = append(k, '/')
	k = appendBE64(k, uint64(round))
	return k
}

// ReputationKey builds the reputation/<epoch>/<author> key.
func ReputationKey(epoch uint64, author ids.NodeID) []byte {
	k := make([]byte, 0, len(PrefixReputation)+9+len(author))
	k = append(k, PrefixReputation...)
	k = appendBE64(k, epoch)
	k = append(k, '/')
	k = append(k, author[:]...)
	return k
}

func appendBE64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
