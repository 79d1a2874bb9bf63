// Package ftp implements the device's FTP-compatible command server.
//
// A Server listens on one control address per network interface and shares a
// single passive data socket between all sessions. Every command line, from
// any session, runs under one process-wide busy gate: a line that arrives
// while another command executes is answered with "400 Device busy." and
// dropped.
//
// # Basic Usage
//
//	fsys, _ := storage.NewDirFS("/srv/device")
//	pool := buffer.MustNewPool(limits.DefaultBufferCount, limits.DefaultChunkSize)
//
//	cfg := ftp.DefaultConfig()
//	cfg.Listen = []string{"0.0.0.0:2121"}
//
//	srv := ftp.NewServer(cfg, fsys, pool)
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Stop()
//
// # Replies
//
// Every reply is a single "CODE MESSAGE\r\n" line except STAT, which sends a
// multi-line reply. Data commands open the data channel before answering 150
// and finish with "226 Done." or "550 Fail".
//
// # Metrics
//
// Each Server owns a Prometheus registry, exposed through Metrics().Registry(),
// counting replies by command and code, busy rejections, live sessions and
// transferred bytes.
package ftp
