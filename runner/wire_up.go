// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runner

import (
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/dagconsensus/batch"
	"github.com/luxfi/dagconsensus/broadcast"
	"github.com/luxfi/dagconsensus/committee"
	"github.com/luxfi/dagconsensus/config"
	"github.com/luxfi/dagconsensus/dagstore"
	"github.com/luxfi/dagconsensus/equivocation"
	"github.com/luxfi/dagconsensus/header"
	"github.com/luxfi/dagconsensus/iface"
	"github.com/luxfi/dagconsensus/leader"
	"github.com/luxfi/dagconsensus/metrics"
	"github.com/luxfi/dagconsensus/order"
	"github.com/luxfi/dagconsensus/reputation"
	sy "github.com/luxfi/dagconsensus/sync"
	"github.com/luxfi/dagconsensus/wire"
)

// Build assembles a fully wired Runner from its primitive
// collaborators and a validated set of tunables, constructing the
// components in this order: Committee -> DAG Store -> Batcher -> Leader
// Election -> Reputation -> Equivocation Guard -> reputation-biased
// Leader Election -> Ordering Engine -> Header Builder -> Reliable
// Broadcast -> Synchronizer -> Runner. Collaborators are injected as a capability bundle; the core
// holds no ambient singletons.
func Build(self ids.NodeID, epochs iface.EpochProvider, db iface.Storage, transport iface.Transport, keys iface.KeyService, clock iface.Clock, l log.Logger, params config.Parameters, m *metrics.Metrics) *Runner {
	if l == nil {
		l = log.NewNoOpLogger()
	}
	params = params.MustValidate()

	committees := committee.NewProvider(epochs)
	dag := dagstore.New(dagstore.Config{DB: db, Log: l, Committees: committees, Keys: keys})

	bat := batch.New(batch.Config{MaxBatchSize: params.MaxBatchSize, MaxBatchDelay: params.MaxBatchDelay, Log: l})
	leaders := leader.New(committees)
	rep := reputation.New(reputation.Config{DB: db, Window: params.ReputationWindow})
	equiv := equivocation.New(equivocation.Config{DB: db, Log: l, Reputation: rep, PenaltyWindow: params.PenaltyWindow, Metrics: m})
	biasedLeaders := leaders.WithReputation(rep)
	orderingEngine := order.New(order.Config{DAG: dag, Committees: committees, Leaders: biasedLeaders, DB: db, Log: l, Reputation: rep, Metrics: m})

	builder := header.New(header.Config{
		Author:            self,
		Committees:        committees,
		DAG:               dag,
		Batcher:           bat,
		Keys:              keys,
		Clock:             clock,
		Log:               l,
		MinHeaderInterval: params.MinHeaderInterval,
		LeaderHint: func(round wire.Round) (ids.NodeID, bool) {
			id, err := biasedLeaders.LeaderOf(round)
			if err != nil {
				return ids.NodeID{}, false
			}
			return id, true
		},
	})

	bc := broadcast.New(broadcast.Config{Self: self, Committees: committees, Keys: keys, Log: l})
	syncer := sy.New(sy.Config{
		Transport:          transport,
		DAG:                dag,
		Log:                l,
		Metrics:            m,
		MaxInFlightPerPeer: params.MaxInFlightPerPeer,
		RequestTimeout:     params.RequestTimeout,
		BaseBackoff:        params.BaseBackoff,
		MaxBackoff:         params.MaxBackoff,
	})

	return New(Config{
		Self:         self,
		Log:          l,
		Committees:   committees,
		DAG:          dag,
		Batcher:      bat,
		Builder:      builder,
		Broadcaster:  bc,
		Syncer:       syncer,
		Leaders:      biasedLeaders,
		Ordering:     orderingEngine,
		Reputation:   rep,
		Equivocation: equiv,
		Transport:    transport,
		Metrics:      m,
	})
}
