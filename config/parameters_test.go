// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresetsValidate(t *testing.T) {
	for name, p := range map[string]Parameters{
		"mainnet": Mainnet(),
		"testnet": Testnet(),
		"local":   Local(),
	} {
		require.NoErrorf(t, p.Validate(), "%s preset must validate", name)
	}
}

func TestValidateRejectsDegenerateValues(t *testing.T) {
	base := Mainnet()

	cases := []struct {
		name    string
		mutate  func(p Parameters) Parameters
		wantErr error
	}{
		{"reputation window zero", func(p Parameters) Parameters { p.ReputationWindow = 0; return p }, ErrReputationWindowTooLow},
		{"penalty window zero", func(p Parameters) Parameters { p.PenaltyWindow = 0; return p }, ErrPenaltyWindowTooLow},
		{"batch size zero", func(p Parameters) Parameters { p.MaxBatchSize = 0; return p }, ErrMaxBatchSizeTooLow},
		{"batch delay zero", func(p Parameters) Parameters { p.MaxBatchDelay = 0; return p }, ErrMaxBatchDelayTooLow},
		{"in-flight zero", func(p Parameters) Parameters { p.MaxInFlightPerPeer = 0; return p }, ErrMaxInFlightPerPeerTooLow},
		{"request timeout zero", func(p Parameters) Parameters { p.RequestTimeout = 0; return p }, ErrRequestTimeoutTooLow},
		{"backoff inverted", func(p Parameters) Parameters { p.MaxBackoff = p.BaseBackoff / 2; return p }, ErrBackoffOrder},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.mutate(base).Validate(), tc.wantErr)
		})
	}
}

func TestMustValidatePanicsOnInvalid(t *testing.T) {
	bad := Mainnet()
	bad.ReputationWindow = 0
	require.Panics(t, func() { bad.MustValidate() })
}
