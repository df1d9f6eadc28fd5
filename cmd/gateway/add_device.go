package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nixfleet-labs/homebase-gateway/internal/config"
	"github.com/nixfleet-labs/homebase-gateway/internal/logging"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

var addDeviceName string

var addDeviceCmd = &cobra.Command{
	Use:   "add-device <addr>",
	Short: "Register a new homebase address directly against the store",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddDevice,
}

func init() {
	addDeviceCmd.Flags().StringVar(&addDeviceName, "name", "", "display name for the device")
}

// runAddDevice is the one-shot CLI path to the same admission the browser
// AddDevice intent uses (spec §4.A, §4.H), for bootstrapping a device
// before any browser is connected.
func runAddDevice(cmd *cobra.Command, args []string) error {
	addr := args[0]

	log := logging.New("gateway")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Allowed(addr) {
		return fmt.Errorf("address %q is not in the configured allow-list", addr)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if err := db.AddDevice(context.Background(), addr, addDeviceName); err != nil {
		return fmt.Errorf("adding device: %w", err)
	}

	log.Info().Str("addr", addr).Str("name", addDeviceName).Msg("device registered")
	return nil
}
