// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runner

import (
	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/wire"
)

func marshalHeader(h *wire.Header) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, h)
}

func marshalCertificate(c *wire.Certificate) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, c)
}
