// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wire

import (
	"encoding/binary"
)

// canonicalHeaderBytes serializes a header with fixed field order and
// fixed-width integer encoding so independent implementations compute
// identical digests. This is deliberately independent of package codec
// (which handles the wire *envelope*): the digest must be stable even
// if the envelope codec version changes.
func canonicalHeaderBytes(h *Header) []byte {
	parents := h.SortedParents()
	batches := make([]BatchDigest, len(h.Batches))
	copy(batches, h.Batches)
	sortBatchDigests(batches)

	buf := make([]byte, 0, 64+32*len(parents)+32*len(batches))
	buf = append(buf, h.Author[:]...)
	buf = appendUint64(buf, uint64(h.Round))
	buf = appendUint64(buf, uint64(len(parents)))
	for _, p := range parents {
		buf = append(buf, p[:]...)
	}
	buf = appendUint64(buf, uint64(len(batches)))
	for _, b := range batches {
		buf = append(buf, b[:]...)
	}
	buf = appendUint64(buf, uint64(h.Timestamp.UnixNano()))
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func sortBatchDigests(b []BatchDigest) {
	for i := 1; i < len(b); i++ {
		for j := i; j > 0 && Digest(b[j]).Compare(Digest(b[j-1])) < 0; j-- {
			b[j], b[j-1] = b[j-1], b[j]
		}
	}
}
