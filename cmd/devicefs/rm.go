package main

import (
	"fmt"

	"github.com/opd-ai/devicefs/storage"
	"github.com/spf13/cobra"
)

func rmCmd(flags *globalFlags) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm path...",
		Short: "Remove files or directories from storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			fsys, err := cfg.OpenStorage()
			if err != nil {
				return err
			}

			for _, name := range args {
				switch {
				case recursive:
					err = fsys.RemoveAll(name)
				case storage.IsDir(fsys, name):
					err = fsys.Rmdir(name)
				default:
					err = fsys.Remove(name)
				}
				if err != nil {
					return fmt.Errorf("rm %s: %w", name, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and everything under them")
	return cmd
}
