package main

import (
	"fmt"

	"github.com/opd-ai/devicefs/digest"
	"github.com/opd-ai/devicefs/reconcile"
	"github.com/opd-ai/devicefs/vpath"
	"github.com/spf13/cobra"
)

func scanCmd(flags *globalFlags) *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Print path&type&size&hash for every entry under path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}

			alg := cfg.Reconcile.Algorithm
			if algorithm != "" {
				if alg, err = digest.Parse(algorithm); err != nil {
					return err
				}
			}
			start := vpath.Root
			if len(args) == 1 {
				start = args[0]
			}

			fsys, err := cfg.OpenStorage()
			if err != nil {
				return err
			}
			pool, err := cfg.NewPool()
			if err != nil {
				return err
			}

			records, err := reconcile.Scan(cmd.Context(), fsys, pool, alg, start, cfg.Reconcile.Exclude)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintln(out, r.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Hash algorithm (crc32, sha256, blake2b-256)")
	return cmd
}
