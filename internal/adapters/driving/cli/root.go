// Package cli implements the ferry command line.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ferry/internal/adapters/driven/config/file"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/services"
	"github.com/custodia-labs/ferry/internal/logger"
)

// version is set at build time.
var version = "dev"

// Global flags.
var (
	verbose   bool
	configDir string
)

var (
	configStore     driven.ConfigStore
	settingsService *services.SettingsService
)

var rootCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Transfer repository subtrees between ferry nodes",
	Long: `ferry pushes a local tree to a remote ferry receiver and serves the
receiving end of the transfer protocol.

Targets and receiver settings are read from ~/.ferry/config.toml.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Configuration directory (default ~/.ferry)")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetConfigStore replaces the configuration store. When unset, the TOML
// store in the configuration directory is opened on first use.
func SetConfigStore(store driven.ConfigStore) {
	configStore = store
	settingsService = nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func setup(_ *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)

	if configStore == nil {
		store, err := file.NewConfigStore(configDir)
		if err != nil {
			return fmt.Errorf("failed to open config: %w", err)
		}
		configStore = store
	}
	if settingsService == nil {
		settingsService = services.NewSettingsService(configStore)
	}
	return nil
}

func settings() (*services.SettingsService, error) {
	if settingsService == nil {
		return nil, errors.New("settings service not configured")
	}
	return settingsService, nil
}
