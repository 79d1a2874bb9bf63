package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/limits"
	"github.com/opd-ai/devicefs/storage"
	"github.com/opd-ai/devicefs/transfer"
	"github.com/opd-ai/devicefs/vpath"
	"github.com/sirupsen/logrus"
)

// Config holds the device-side connection settings.
type Config struct {
	// Host is the "host:port" the device dials.
	Host        string
	DialTimeout time.Duration
	// IdleTimeout bounds every read and write on the connection.
	IdleTimeout time.Duration
}

// DefaultConfig returns the device defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout: 10 * time.Second,
		IdleTimeout: 100 * time.Second,
	}
}

// Driver is the device side of the push protocol.
type Driver struct {
	cfg  Config
	fs   storage.FS
	pool *buffer.Pool
}

// NewDriver creates a driver that serves fsys through pool.
func NewDriver(cfg Config, fsys storage.FS, pool *buffer.Pool) *Driver {
	return &Driver{cfg: cfg, fs: fsys, pool: pool}
}

// Run dials the configured host and serves it until FINISHED or disconnect.
func (d *Driver) Run(ctx context.Context) error {
	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Host)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"host":     d.cfg.Host,
			"error":    err.Error(),
		}).Error("Failed to reach push host")
		return fmt.Errorf("dial %s: %w", d.cfg.Host, err)
	}
	return d.Serve(ctx, conn)
}

// Serve runs the protocol on an established connection and closes it on
// return. A clean FINISHED or peer close returns nil.
func (d *Driver) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"host":     conn.RemoteAddr().String(),
	}).Info("Push session started")

	lc := newLineConn(conn, d.cfg.IdleTimeout)
	for {
		line, err := lc.readLine()
		if errors.Is(err, limits.ErrLineTooLong) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		line = strings.TrimSpace(line)

		switch {
		case line == LinePing:
			err = lc.writeLine(LinePong)
		case strings.HasPrefix(line, prefixUpload):
			err = d.handleUpload(ctx, lc, line)
		case strings.HasPrefix(line, prefixDownload):
			err = d.handleDownload(ctx, lc, line)
		case line == LineFinished:
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
			}).Info("Push session finished")
			return nil
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"line":     line,
			}).Debug("Ignoring unknown line")
		}
		if err != nil {
			return err
		}
	}
}

// handleUpload acknowledges the header, receives the content and reports
// protocol failures to the host. Once CONTINUE is sent the declared content is
// consumed even when it cannot be stored. Only connection write failures are
// returned.
func (d *Driver) handleUpload(ctx context.Context, lc *lineConn, line string) error {
	path, size, err := ParseUpload(line)
	if err != nil {
		return d.reportError(lc, "upload", err)
	}
	path = vpath.Clean(path)

	buf, err := d.pool.Get(ctx)
	if err != nil {
		return d.reportError(lc, path, err)
	}
	defer buf.Release()

	if err := lc.writeLine(LineContinue); err != nil {
		return err
	}
	f, err := d.create(path)
	if err != nil {
		return d.reportError(lc, path, discard(lc, buf.Bytes(), size, err))
	}
	if err := d.receive(lc, f, buf, path, size); err != nil {
		return d.reportError(lc, path, err)
	}
	return lc.writeLine(LineDone)
}

// create makes the parent directories of path and opens it for writing.
func (d *Driver) create(path string) (io.WriteCloser, error) {
	if dir, _ := vpath.Split(path); dir != vpath.Root {
		if err := d.fs.MkdirAll(dir); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "create",
				"path":     path,
				"error":    err.Error(),
			}).Debug("Failed to create parent directories")
			return nil, err
		}
	}
	return d.fs.Create(path)
}

// receive writes exactly size bytes from lc into f, acknowledging each read.
// After a storage failure the rest of the content is still consumed so the
// next line read starts after it.
func (d *Driver) receive(lc *lineConn, f io.WriteCloser, buf *buffer.Buffer, path string, size int64) (err error) {
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	t := transfer.New(path, size, transfer.DirectionIncoming)
	if err := t.Begin(); err != nil {
		return discard(lc, buf.Bytes(), size, err)
	}
	defer func() { t.Finish(err) }()

	chunk := buf.Bytes()
	var received int64
	for size-received >= int64(len(chunk)) {
		n, rerr := lc.Read(chunk)
		if n > 0 {
			received += int64(n)
			if _, err := f.Write(buf.Valid(n)); err != nil {
				return discard(lc, chunk, size-received, err)
			}
			if err := ack(lc, t, n); err != nil {
				return err
			}
		}
		if rerr != nil {
			return fmt.Errorf("read content: %w", rerr)
		}
	}

	if remainder := int(size - received); remainder > 0 {
		tail := buf.Valid(remainder)
		if _, err := io.ReadFull(lc, tail); err != nil {
			return fmt.Errorf("read content: %w", err)
		}
		if _, err := f.Write(tail); err != nil {
			return err
		}
		if err := ack(lc, t, remainder); err != nil {
			return err
		}
	}
	return nil
}

// ack records n stored bytes and acknowledges them.
func ack(lc *lineConn, t *transfer.Transfer, n int) error {
	t.Advance(n)
	return lc.writeLine(fmt.Sprintf("%s%d", prefixWrote, n))
}

// discard reads and drops the remaining content bytes through chunk, then
// returns cause.
func discard(lc *lineConn, chunk []byte, remaining int64, cause error) error {
	for remaining > 0 {
		n, err := lc.Read(chunk[:min(int64(len(chunk)), remaining)])
		remaining -= int64(n)
		if err != nil && remaining > 0 {
			return errors.Join(cause, fmt.Errorf("discard content: %w", err))
		}
	}
	return cause
}

// handleDownload announces the size, waits for CONTINUE and streams the file.
func (d *Driver) handleDownload(ctx context.Context, lc *lineConn, line string) error {
	path, err := ParseDownload(line)
	if err != nil {
		return d.reportError(lc, "download", err)
	}
	path = vpath.Clean(path)

	info, err := d.fs.Stat(path)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s: %w", path, storage.ErrIsDirectory)
	}
	if err != nil {
		return d.reportError(lc, path, err)
	}
	if err := lc.writeLine(fmt.Sprintf("%s%d", prefixSize, info.Size())); err != nil {
		return err
	}

	reply, err := lc.readLine()
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) != LineContinue {
		logrus.WithFields(logrus.Fields{
			"function": "handleDownload",
			"path":     path,
			"reply":    reply,
		}).Debug("Download not acknowledged")
		return nil
	}

	if err := d.send(ctx, lc, path, info.Size()); err != nil {
		return d.reportError(lc, path, err)
	}
	return nil
}

// send streams path to lc through a pooled buffer.
func (d *Driver) send(ctx context.Context, lc *lineConn, path string, size int64) error {
	buf, err := d.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer buf.Release()

	f, err := d.fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = transfer.New(path, size, transfer.DirectionOutgoing).Pump(lc, f, buf.Bytes())
	return err
}

var lineBreaks = strings.NewReplacer("\r\n", "; ", "\n", "; ", "\r", " ")

// reportError sends "ERROR: <message>" and returns only a failure to send it.
func (d *Driver) reportError(lc *lineConn, subject string, cause error) error {
	logrus.WithFields(logrus.Fields{
		"function": "reportError",
		"subject":  subject,
		"error":    cause.Error(),
	}).Warn("Push transfer failed")

	return lc.writeLine(prefixError + lineBreaks.Replace(cause.Error()))
}
