package main

import (
	"fmt"

	"github.com/opd-ai/devicefs/reconcile"
	"github.com/spf13/cobra"
)

func reconcileCmd(flags *globalFlags) *cobra.Command {
	var (
		manifestPath string
		synchronize  bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare storage against a manifest and print the matching paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			m, err := reconcile.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sync") {
				m.Synchronize = synchronize
			}
			if len(m.Exclude) == 0 {
				m.Exclude = cfg.Reconcile.Exclude
			}

			fsys, err := cfg.OpenStorage()
			if err != nil {
				return err
			}
			pool, err := cfg.NewPool()
			if err != nil {
				return err
			}

			res := reconcile.NewEngine(fsys, pool).Run(cmd.Context(), m)
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			return res.Err
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Path to the TOML manifest")
	cmd.Flags().BoolVar(&synchronize, "sync", false, "Delete unreferenced files (overrides the manifest)")
	cmd.MarkFlagRequired("manifest")
	return cmd
}
