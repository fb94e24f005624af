// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luxfi/dagconsensus/config"
)

func checkCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a parameter preset before deployment",
		Long: `check loads a named parameter preset and runs config.Parameters.Validate
against it, reporting the first constraint it violates.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := presetByName(preset)
			if err != nil {
				return err
			}
			if err := params.Validate(); err != nil {
				return fmt.Errorf("preset %q is invalid: %w", preset, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "preset %q is valid: %+v\n", preset, params)
			return nil
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "mainnet", "parameter preset: mainnet, testnet, local")
	return cmd
}
