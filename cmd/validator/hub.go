// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luxfi/ids"

	"github.com/luxfi/dagconsensus/iface"
)

// hub is an in-process stand-in for the P2P transport named as an
// external collaborator in iface.Transport's doc comment: it fans
// Broadcast calls out to every subscribed peer and answers Send by
// calling the addressed peer's registered handler directly. A real
// deployment replaces this with github.com/luxfi/p2p.
type hub struct {
	mu       sync.Mutex
	subs     map[ids.NodeID]map[string]chan iface.InboundMessage
	handlers map[ids.NodeID]func(payload []byte) ([]byte, error)
}

func newHub() *hub {
	return &hub{
		subs:     make(map[ids.NodeID]map[string]chan iface.InboundMessage),
		handlers: make(map[ids.NodeID]func(payload []byte) ([]byte, error)),
	}
}

// registerHandler lets node answer point-to-point Send calls (sync
// requests, relayed votes) addressed to it.
func (h *hub) registerHandler(node ids.NodeID, handle func(payload []byte) ([]byte, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[node] = handle
}

// transportFor returns the iface.Transport a single validator's
// Runner should be wired with.
func (h *hub) transportFor(self ids.NodeID) iface.Transport {
	return &hubTransport{hub: h, self: self}
}

type hubTransport struct {
	hub  *hub
	self ids.NodeID
}

func (t *hubTransport) Broadcast(ctx context.Context, topic string, payload []byte) error {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	for node, topics := range t.hub.subs {
		if node == t.self {
			continue
		}
		ch, ok := topics[topic]
		if !ok {
			continue
		}
		select {
		case ch <- iface.InboundMessage{From: t.self, Payload: payload}:
		default: // a full subscriber channel drops rather than blocks the broadcaster
		}
	}
	return nil
}

func (t *hubTransport) Send(ctx context.Context, peer ids.NodeID, payload []byte) ([]byte, error) {
	t.hub.mu.Lock()
	handle, ok := t.hub.handlers[peer]
	t.hub.mu.Unlock()
	if !ok {
		return nil, errors.Newf("hub: no handler registered for %s", peer)
	}
	return handle(payload)
}

func (t *hubTransport) Subscribe(ctx context.Context, topic string) (<-chan iface.InboundMessage, error) {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	topics, ok := t.hub.subs[t.self]
	if !ok {
		topics = make(map[string]chan iface.InboundMessage)
		t.hub.subs[t.self] = topics
	}
	ch, ok := topics[topic]
	if !ok {
		ch = make(chan iface.InboundMessage, 64)
		topics[topic] = ch
	}
	return ch, nil
}
