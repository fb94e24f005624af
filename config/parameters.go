// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config collects the tunables every consensus component
// accepts as a Config struct into one Parameters value, so a node
// operator has a single place to set and validate them before wiring
// up a runner.Build call.
package config

import "time"

// Parameters bundles every tunable accepted by the consensus
// components (batch, header, sync, reputation, order). AnchorStride
// and LeaderStride are not included here: both the ordering engine
// and the leader elector treat them as protocol constants shared by
// every validator, not a per-node tunable, so they stay fixed package
// constants (order.AnchorStride, leader.LeaderStride).
type Parameters struct {
	// ReputationWindow bounds how many recent observations the
	// reputation tracker keeps per validator.
	ReputationWindow int
	// PenaltyWindow is the default number of rounds an equivocating
	// validator is excluded from leadership.
	PenaltyWindow int

	// MinHeaderInterval is the minimum wall-clock gap the header
	// builder enforces between two headers it proposes.
	MinHeaderInterval time.Duration

	// MaxBatchSize seals a batch once this many transactions are
	// buffered.
	MaxBatchSize int
	// MaxBatchDelay seals whatever is buffered once this long has
	// elapsed since the last seal.
	MaxBatchDelay time.Duration

	// MaxInFlightPerPeer bounds concurrent outstanding sync requests
	// to a single peer.
	MaxInFlightPerPeer int
	// RequestTimeout bounds a single sync fetch round-trip.
	RequestTimeout time.Duration
	// BaseBackoff and MaxBackoff govern the exponential backoff the
	// synchronizer applies between retries of the same gap.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Mainnet returns the tunables used on the production network.
func Mainnet() Parameters {
	return Parameters{
		ReputationWindow:   50,
		PenaltyWindow:      10,
		MinHeaderInterval:  100 * time.Millisecond,
		MaxBatchSize:       500,
		MaxBatchDelay:      100 * time.Millisecond,
		MaxInFlightPerPeer: 4,
		RequestTimeout:     2 * time.Second,
		BaseBackoff:        100 * time.Millisecond,
		MaxBackoff:         10 * time.Second,
	}
}

// Testnet returns tunables for the public test network: shorter
// penalty windows so operators recover faster from misconfiguration.
func Testnet() Parameters {
	p := Mainnet()
	p.PenaltyWindow = 5
	return p
}

// Local returns tunables for single-machine multi-validator
// development: tight intervals, a small reputation window.
func Local() Parameters {
	return Parameters{
		ReputationWindow:   20,
		PenaltyWindow:      3,
		MinHeaderInterval:  10 * time.Millisecond,
		MaxBatchSize:       50,
		MaxBatchDelay:      10 * time.Millisecond,
		MaxInFlightPerPeer: 2,
		RequestTimeout:     500 * time.Millisecond,
		BaseBackoff:        20 * time.Millisecond,
		MaxBackoff:         2 * time.Second,
	}
}
