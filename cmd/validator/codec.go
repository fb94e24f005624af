// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/json"

	"github.com/luxfi/dagconsensus/codec"
	"github.com/luxfi/dagconsensus/wire"
)

// envelope discriminates the payload kinds exchanged over Send, since
// iface.Transport carries opaque bytes.
type envelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

const (
	kindSyncRequest = "sync_request"
	kindVote        = "vote"
)

func unmarshalHeader(payload []byte) (*wire.Header, error) {
	var h wire.Header
	if _, err := codec.Codec.Unmarshal(payload, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func marshalCertificate(c *wire.Certificate) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, c)
}

func unmarshalCertificate(payload []byte) (*wire.Certificate, error) {
	var c wire.Certificate
	if _, err := codec.Codec.Unmarshal(payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func marshalEnvelope(kind string, v interface{}) ([]byte, error) {
	body, err := codec.Codec.Marshal(codec.CurrentVersion, v)
	if err != nil {
		return nil, err
	}
	return codec.Codec.Marshal(codec.CurrentVersion, envelope{Kind: kind, Body: body})
}

func unmarshalEnvelope(payload []byte) (*envelope, error) {
	var env envelope
	if _, err := codec.Codec.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func unmarshalSyncRequest(payload []byte) (*wire.SyncRequest, error) {
	var req wire.SyncRequest
	if _, err := codec.Codec.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func marshalSyncResponse(resp *wire.SyncResponse) ([]byte, error) {
	return codec.Codec.Marshal(codec.CurrentVersion, resp)
}

func unmarshalVote(payload []byte) (*wire.Vote, error) {
	var v wire.Vote
	if _, err := codec.Codec.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
