package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Ensure the device identity is activated and synced to the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIdentityOp(false)
	},
}

var resetIdentityCmd = &cobra.Command{
	Use:   "reset-identity",
	Short: "Destroy the device identity and activate from scratch",
	Long: `Deletes the identity artifacts locally and in the credential store, then
runs a fresh activation. Use when the stored identity is corrupt or the
activation servers have invalidated it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIdentityOp(true)
	},
}

func init() {
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(resetIdentityCmd)
}

func runIdentityOp(reset bool) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	ctx := context.Background()
	bridge, err := buildBridge(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer bridge.Close()

	if reset {
		if err := bridge.Identity.ResetAndReactivate(ctx); err != nil {
			return fmt.Errorf("identity reset failed: %w", err)
		}
		fmt.Println("Device identity reset and reactivated")
		return nil
	}

	if err := bridge.Identity.EnsureReady(ctx); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}
	fmt.Println("Device identity ready")
	return nil
}
