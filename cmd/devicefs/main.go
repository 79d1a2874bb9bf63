// Command devicefs serves a directory the way a networked device exposes its
// file system: an FTP-compatible command server, the device side of the push
// protocol, and manifest reconciliation.
package main

import (
	"fmt"
	"os"

	"github.com/opd-ai/devicefs/config"
	"github.com/spf13/cobra"
)

// Version is set via ldflags.
var Version = "dev"

type globalFlags struct {
	config  string
	root    string
	verbose int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "devicefs",
		Short: "Device file exchange server",
		Long: `devicefs exposes a directory as device storage.

It serves an FTP-compatible command server with active and passive data
channels, dials a host for push transfers, and reconciles the storage
against a host manifest by size and content hash.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "Path to a TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.root, "root", "", "Storage root directory (overrides storage.root)")
	rootCmd.PersistentFlags().CountVarP(&flags.verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(pushCmd(flags))
	rootCmd.AddCommand(reconcileCmd(flags))
	rootCmd.AddCommand(scanCmd(flags))
	rootCmd.AddCommand(hostCmd(flags))
	rootCmd.AddCommand(rmCmd(flags))

	return rootCmd
}

// loadConfig reads the configuration, applies flag overrides and sets up
// logging on the command's error stream.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.config)
	if err != nil {
		return config.Config{}, err
	}
	if flags.root != "" {
		cfg.Storage.Root = flags.root
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Log.Verbose = flags.verbose
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	config.SetupLogging(cfg.Log, cmd.ErrOrStderr())
	return cfg, nil
}
