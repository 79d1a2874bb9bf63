package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Host listens for devices that dial in.
type Host struct {
	ln   net.Listener
	idle time.Duration
}

// Listen binds the host socket on addr.
func Listen(addr string, idle time.Duration) (*Host, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"address":  ln.Addr().String(),
	}).Info("Waiting for devices")

	return &Host{ln: ln, idle: idle}, nil
}

// Addr returns the bound address.
func (h *Host) Addr() net.Addr { return h.ln.Addr() }

// Close stops listening.
func (h *Host) Close() error { return h.ln.Close() }

// Accept waits for one device connection.
func (h *Host) Accept(ctx context.Context) (*Peer, error) {
	stop := context.AfterFunc(ctx, func() { h.ln.Close() })
	defer stop()

	conn, err := h.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Accept",
		"device":   conn.RemoteAddr().String(),
	}).Info("Device connected")

	return &Peer{lc: newLineConn(conn, h.idle)}, nil
}

// Peer is one connected device as seen from the host.
type Peer struct {
	lc *lineConn
}

// Ping checks that the device is responsive.
func (p *Peer) Ping() error {
	if err := p.lc.writeLine(LinePing); err != nil {
		return err
	}
	line, err := p.lc.readLine()
	if err != nil {
		return err
	}
	if line != LinePong {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}
	return nil
}

// Upload sends size bytes from content to path on the device. progress, when
// set, receives the running total of acknowledged bytes.
func (p *Peer) Upload(path string, content io.Reader, size int64, progress func(int64)) error {
	if err := p.lc.writeLine(FormatUpload(path, size)); err != nil {
		return err
	}
	line, err := p.lc.readLine()
	if err != nil {
		return err
	}
	if derr := deviceError(line); derr != nil {
		return derr
	}
	if line != LineContinue {
		return fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}

	sent := make(chan error, 1)
	go func() {
		_, err := io.CopyN(p.lc, content, size)
		sent <- err
	}()

	var acked int64
	for {
		line, err := p.lc.readLine()
		if err != nil {
			return errors.Join(err, <-sent)
		}
		switch {
		case strings.HasPrefix(line, prefixWrote):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, prefixWrote), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
			}
			acked += n
			if progress != nil {
				progress(acked)
			}
		case line == LineDone:
			if err := <-sent; err != nil {
				return err
			}
			if acked != size {
				return fmt.Errorf("%w: device acknowledged %d of %d bytes", ErrUnexpectedReply, acked, size)
			}
			return nil
		default:
			if derr := deviceError(line); derr != nil {
				return derr
			}
			return fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
		}
	}
}

// Download copies path from the device into w and returns the byte count.
func (p *Peer) Download(path string, w io.Writer) (int64, error) {
	if err := p.lc.writeLine(FormatDownload(path)); err != nil {
		return 0, err
	}
	line, err := p.lc.readLine()
	if err != nil {
		return 0, err
	}
	if derr := deviceError(line); derr != nil {
		return 0, derr
	}
	sizeText, ok := strings.CutPrefix(line, prefixSize)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}
	size, err := strconv.ParseInt(sizeText, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}

	if err := p.lc.writeLine(LineContinue); err != nil {
		return 0, err
	}
	return io.CopyN(w, p.lc, size)
}

// Finish tells the device to hang up and closes the connection.
func (p *Peer) Finish() error {
	err := p.lc.writeLine(LineFinished)
	if cerr := p.lc.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close drops the connection without FINISHED.
func (p *Peer) Close() error {
	return p.lc.conn.Close()
}
