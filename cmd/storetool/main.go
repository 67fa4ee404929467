package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fako1024/cgmbridge/pkg/config"
	"github.com/fako1024/cgmbridge/pkg/kvstore"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var (
	configPath string
	storePath  string
	source     string
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "storetool",
	Short: "Inspect and populate the companion app shared store",
	Long: `Inspect and populate the shared store the CGM companion app publishes its readings and
transmitter identity in.

The write commands act like the companion app and can be used to set up fixtures or to
drive a cgmbridge instance without a companion app.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to cgmbridge config file")
	rootCmd.PersistentFlags().StringVarP(&storePath, "store", "s", "", "path to shared store (overrides config)")
	rootCmd.PersistentFlags().StringVar(&source, "source", "", "companion app tag (overrides config)")

	rootCmd.AddCommand(readingsCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(putReadingCmd)
	rootCmd.AddCommand(setIdentityCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// storeConfig returns the shared store settings, with command line overrides applied
func storeConfig(cmd *cobra.Command) (config.StoreConfig, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if cmd.Flags().Changed("config") || !errors.Is(err, fs.ErrNotExist) {
			return config.StoreConfig{}, "", err
		}
		cfg = config.Default()
	}

	if storePath != "" {
		cfg.SharedStore = config.StoreConfig{Driver: config.DriverSQLite, Path: storePath}
	}
	if cmd.Flags().Changed("source") {
		cfg.Source = source
	}
	if cfg.SharedStore.Driver != config.DriverSQLite {
		return config.StoreConfig{}, "", fmt.Errorf("shared store driver %q cannot be accessed from another process", cfg.SharedStore.Driver)
	}

	return cfg.SharedStore, cfg.Source, nil
}

func openStore(cmd *cobra.Command, readOnly bool) (kvstore.Store, string, error) {
	storeCfg, src, err := storeConfig(cmd)
	if err != nil {
		return nil, "", err
	}

	store, err := kvstore.Open(storeCfg.Driver, storeCfg.Path, readOnly)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open shared store %s: %w", storeCfg.Path, err)
	}

	return store, src, nil
}
