package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/opd-ai/devicefs/push"
	"github.com/opd-ai/devicefs/vpath"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func hostCmd(flags *globalFlags) *cobra.Command {
	var (
		listen string
		puts   []string
		gets   []string
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Wait for a device to dial in, then upload and download files",
		Long: `host plays the host side of the push protocol. It waits for one device,
uploads every --put, downloads every --get and tells the device to finish.

  --put local=/device/path   (device path defaults to /<base name>)
  --get /device/path=local   (local path defaults to the base name)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Push.Host
			}
			if listen == "" {
				return errors.New("listen address not set (use --listen or push.host)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := push.Listen(listen, cfg.Push.IdleTimeout)
			if err != nil {
				return err
			}
			defer h.Close()

			peer, err := h.Accept(ctx)
			if err != nil {
				return err
			}
			if err := peer.Ping(); err != nil {
				peer.Close()
				return err
			}

			out := cmd.OutOrStdout()
			for _, spec := range puts {
				local, remote := splitPut(spec)
				n, err := upload(peer, local, remote)
				if err != nil {
					peer.Close()
					return fmt.Errorf("upload %s: %w", remote, err)
				}
				fmt.Fprintf(out, "uploaded %s (%d bytes)\n", remote, n)
			}
			for _, spec := range gets {
				remote, local := splitGet(spec)
				n, err := download(peer, remote, local)
				if err != nil {
					peer.Close()
					return fmt.Errorf("download %s: %w", remote, err)
				}
				fmt.Fprintf(out, "downloaded %s (%d bytes)\n", remote, n)
			}
			return peer.Finish()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to wait on (defaults to push.host)")
	cmd.Flags().StringArrayVar(&puts, "put", nil, "Upload local=/device/path (repeatable)")
	cmd.Flags().StringArrayVar(&gets, "get", nil, "Download /device/path=local (repeatable)")
	return cmd
}

func splitPut(spec string) (local, remote string) {
	local, remote, ok := strings.Cut(spec, "=")
	if !ok || remote == "" {
		remote = filepath.Base(local)
	}
	return local, vpath.Clean(remote)
}

func splitGet(spec string) (remote, local string) {
	remote, local, ok := strings.Cut(spec, "=")
	if !ok || local == "" {
		_, local = vpath.Split(vpath.Clean(remote))
	}
	return vpath.Clean(remote), local
}

func upload(peer *push.Peer, local, remote string) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	err = peer.Upload(remote, f, info.Size(), func(acked int64) {
		logrus.WithFields(logrus.Fields{
			"function": "upload",
			"path":     remote,
			"acked":    acked,
			"size":     info.Size(),
		}).Debug("Upload progress")
	})
	return info.Size(), err
}

func download(peer *push.Peer, remote, local string) (n int64, err error) {
	f, err := os.Create(local)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return peer.Download(remote, f)
}
