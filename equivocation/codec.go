// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package equivocation

import (
	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/wire"
)

func marshalEquivocation(e *wire.Equivocation) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, e)
}

func unmarshalEquivocation(data []byte) (*wire.Equivocation, error) {
	var e wire.Equivocation
	if _, err := codec.Codec.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
