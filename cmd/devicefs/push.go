package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/devicefs/push"
	"github.com/spf13/cobra"
)

func pushCmd(flags *globalFlags) *cobra.Command {
	var host string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Dial a host and serve push transfers until it finishes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if host != "" {
				cfg.Push.Host = host
			}
			if cfg.Push.Host == "" {
				return errors.New("push host not set (use --host or push.host)")
			}

			fsys, err := cfg.OpenStorage()
			if err != nil {
				return err
			}
			pool, err := cfg.NewPool()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return push.NewDriver(cfg.PushDriver(), fsys, pool).Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to dial (host:port)")
	return cmd
}
