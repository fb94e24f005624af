// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dagstore

import (
	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/wire"
)

func marshalCertificate(cert *wire.Certificate) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, cert)
}

func unmarshalCertificate(data []byte) (*wire.Certificate, error) {
	var cert wire.Certificate
	if _, err := codec.Codec.Unmarshal(data, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}
