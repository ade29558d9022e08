package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/breakout/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or reset the persisted bot state",
	Long: `Inspect or reset the state the bot persists between restarts:
detector memory, pending breakout, pending entry, open position and
cooldown.

Examples:
  breakout state show -c breakout.yaml
  breakout state reset --yes`,
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted state as JSON",
	Args:  cobra.NoArgs,
	RunE:  runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the persisted state",
	Long: `Delete every persisted state record. The next start re-arms the
detector from scratch and adopts any trade still open at the broker.`,
	Args: cobra.NoArgs,
	RunE: runStateReset,
}

var stateResetYes bool

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateResetCmd.Flags().BoolVar(&stateResetYes, "yes", false, "confirm the reset")
}

func runStateShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg.State, cfg.Instrument)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer store.Close()

	snap, err := store.Load(cmd.Context())
	if errors.Is(err, state.ErrNoState) {
		fmt.Fprintln(cmd.OutOrStdout(), "no persisted state")
		return nil
	}
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	if err := snap.Check(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return nil
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if !stateResetYes {
		return errors.New("refusing to reset state without --yes")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg.State, cfg.Instrument)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer store.Close()

	if err := store.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ State reset (%s)\n", cfg.State.Type)
	return nil
}
