// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"errors"
	"fmt"
)

// Validation errors returned by Validate.
var (
	ErrReputationWindowTooLow   = errors.New("config: reputation window must be >= 1")
	ErrPenaltyWindowTooLow      = errors.New("config: penalty window must be >= 1")
	ErrMaxBatchSizeTooLow       = errors.New("config: max batch size must be >= 1")
	ErrMaxBatchDelayTooLow      = errors.New("config: max batch delay must be > 0")
	ErrMaxInFlightPerPeerTooLow = errors.New("config: max in-flight per peer must be >= 1")
	ErrRequestTimeoutTooLow     = errors.New("config: request timeout must be > 0")
	ErrBackoffOrder             = errors.New("config: max backoff must be >= base backoff")
)

// Validate checks p for internally-consistent, non-degenerate values.
// It does not know about committee size; callers that also hold a
// committee.Provider should additionally check that MaxInFlightPerPeer
// times the peer count is a sane bound for their deployment.
func (p Parameters) Validate() error {
	switch {
	case p.ReputationWindow < 1:
		return ErrReputationWindowTooLow
	case p.PenaltyWindow < 1:
		return ErrPenaltyWindowTooLow
	case p.MaxBatchSize < 1:
		return ErrMaxBatchSizeTooLow
	case p.MaxBatchDelay <= 0:
		return ErrMaxBatchDelayTooLow
	case p.MaxInFlightPerPeer < 1:
		return ErrMaxInFlightPerPeerTooLow
	case p.RequestTimeout <= 0:
		return ErrRequestTimeoutTooLow
	case p.MaxBackoff < p.BaseBackoff:
		return ErrBackoffOrder
	}
	return nil
}

// MustValidate panics if p is invalid. Intended for use with a
// compile-time-known preset, not with operator-supplied values.
func (p Parameters) MustValidate() Parameters {
	if err := p.Validate(); err != nil {
		panic(fmt.Sprintf("config: invalid parameters: %v", err))
	}
	return p
}
