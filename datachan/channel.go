// Package datachan opens the transfer-only connections that carry raw file
// bytes next to a command connection.
//
// In active mode the device dials the peer; in passive mode it accepts one
// inbound connection on a listener shared by every session. Both paths are
// bounded by timeouts and return a connection whose reads and writes are
// bounded by an idle timeout.
package datachan

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Mode selects how a data channel is opened.
type Mode uint8

const (
	// Active means the device connects out to the peer.
	Active Mode = iota
	// Passive means the peer connects in to the shared passive listener.
	Passive
)

// String returns a readable name for the mode.
func (m Mode) String() string {
	if m == Passive {
		return "passive"
	}
	return "active"
}

// Endpoint describes where the next data channel comes from.
type Endpoint struct {
	Mode Mode
	Host string
	Port int
}

// Address returns the active-mode dial address.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// PassiveListener is the single listening socket shared by all sessions.
// It hands out at most one connection at a time.
type PassiveListener struct {
	ln *net.TCPListener
	mu sync.Mutex
}

// ListenPassive binds the shared passive socket on addr ("host:port").
func ListenPassive(addr string) (*PassiveListener, error) {
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return nil, err
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, errors.New("passive listener is not TCP")
	}

	logrus.WithFields(logrus.Fields{
		"function": "ListenPassive",
		"address":  tcp.Addr().String(),
	}).Info("Passive data socket listening")

	return &PassiveListener{ln: tcp}, nil
}

// Addr returns the bound address.
func (p *PassiveListener) Addr() net.Addr { return p.ln.Addr() }

// Port returns the bound port.
func (p *PassiveListener) Port() int { return p.ln.Addr().(*net.TCPAddr).Port }

// Accept waits up to timeout for one inbound connection. Closing the listener
// unblocks a pending Accept.
func (p *PassiveListener) Accept(timeout time.Duration) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := p.ln.SetDeadline(deadline); err != nil {
		return nil, newChannelError("accept", p.ln.Addr().String(), err)
	}
	conn, err := p.ln.Accept()
	if err != nil {
		return nil, newChannelError("accept", p.ln.Addr().String(), err)
	}
	return conn, nil
}

// Close closes the listening socket.
func (p *PassiveListener) Close() error {
	return p.ln.Close()
}

// Opener opens data channels for sessions.
type Opener struct {
	Passive        *PassiveListener
	ConnectTimeout time.Duration
	AcceptTimeout  time.Duration
	IdleTimeout    time.Duration
}

// Open returns one transfer-only connection for ep. The caller closes it.
func (o *Opener) Open(ctx context.Context, ep Endpoint) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)

	switch ep.Mode {
	case Passive:
		if o.Passive == nil {
			return nil, newChannelError("accept", "", ErrNoPassiveListener)
		}
		conn, err = o.Passive.Accept(o.AcceptTimeout)
	default:
		dialer := net.Dialer{Timeout: o.ConnectTimeout}
		conn, err = dialer.DialContext(ctx, "tcp4", ep.Address())
		if err != nil {
			err = newChannelError("connect", ep.Address(), err)
		}
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"mode":     ep.Mode.String(),
			"error":    err.Error(),
		}).Warn("Failed to open data channel")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"mode":     ep.Mode.String(),
		"peer":     conn.RemoteAddr().String(),
	}).Debug("Data channel open")

	return WithIdleTimeout(conn, o.IdleTimeout), nil
}

// idleConn refreshes the connection deadline before every read and write.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

// WithIdleTimeout wraps conn so that each Read and Write fails if the peer is
// idle for longer than timeout. A zero timeout returns conn unchanged.
func WithIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &idleConn{Conn: conn, timeout: timeout}
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
