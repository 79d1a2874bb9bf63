package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/datachan"
	"github.com/opd-ai/devicefs/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"
)

// ErrServerRunning is returned by Start on a server that is already running.
var ErrServerRunning = errors.New("server already running")

// Config holds the command server settings.
type Config struct {
	// Listen lists control listen addresses. When empty, one address per
	// active IPv4 interface is discovered using Port.
	Listen []string
	Port   int

	// PassiveListen is the bind address of the shared passive data socket.
	PassiveListen string
	// PassiveAddress, when set, is advertised in passive replies instead of
	// the local address of the control connection.
	PassiveAddress string

	Platform       string
	CommandTimeout time.Duration
	DataTimeout    time.Duration
	AcceptTimeout  time.Duration

	// MaxSessions caps concurrent sessions per listener; 0 means no cap.
	MaxSessions int
}

// DefaultConfig returns the settings the device firmware ships with.
func DefaultConfig() Config {
	return Config{
		Port:           21,
		PassiveListen:  "0.0.0.0:13333",
		Platform:       "esp32",
		CommandTimeout: 300 * time.Second,
		DataTimeout:    100 * time.Second,
		AcceptTimeout:  10 * time.Second,
	}
}

// Server owns the listening sockets, the busy gate and the session registry.
type Server struct {
	cfg     Config
	fs      storage.FS
	pool    *buffer.Pool
	gate    Gate
	metrics *Metrics
	clock   TimeProvider

	mu        sync.Mutex
	running   bool
	listeners []net.Listener
	passive   *datachan.PassiveListener
	opener    *datachan.Opener
	sessions  map[string]*Session
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewServer creates a stopped server serving fsys through pool.
func NewServer(cfg Config, fsys storage.FS, pool *buffer.Pool) *Server {
	return &Server{
		cfg:      cfg,
		fs:       fsys,
		pool:     pool,
		metrics:  NewMetrics(),
		clock:    DefaultTimeProvider{},
		sessions: make(map[string]*Session),
	}
}

// SetTimeProvider replaces the clock used for listings.
func (s *Server) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = tp
}

// Metrics returns the server collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Busy reports whether a command is executing.
func (s *Server) Busy() bool { return s.gate.Busy() }

// Start binds every control listener and the passive socket, then serves until
// Stop is called or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerRunning
	}

	addrs := s.cfg.Listen
	if len(addrs) == 0 {
		discovered, err := DiscoverAddrs(s.cfg.Port)
		if err != nil {
			return fmt.Errorf("discover listen addresses: %w", err)
		}
		addrs = discovered
	}

	passive, err := datachan.ListenPassive(s.cfg.PassiveListen)
	if err != nil {
		return fmt.Errorf("passive listen %s: %w", s.cfg.PassiveListen, err)
	}

	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		ln, err := net.Listen("tcp4", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			passive.Close()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		if s.cfg.MaxSessions > 0 {
			ln = netutil.LimitListener(ln, s.cfg.MaxSessions)
		}
		listeners = append(listeners, ln)

		logrus.WithFields(logrus.Fields{
			"function": "Start",
			"address":  ln.Addr().String(),
		}).Info("FTP server started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.passive = passive
	s.opener = &datachan.Opener{
		Passive:        passive,
		ConnectTimeout: s.cfg.DataTimeout,
		AcceptTimeout:  s.cfg.AcceptTimeout,
		IdleTimeout:    s.cfg.DataTimeout,
	}
	s.listeners = listeners
	s.running = true
	s.gate.Release()

	for _, ln := range listeners {
		s.wg.Add(1)
		go s.acceptLoop(ln)
	}

	stopCtx := s.ctx
	go func() {
		<-stopCtx.Done()
		s.mu.Lock()
		current := s.running && s.ctx == stopCtx
		s.mu.Unlock()
		if current {
			s.Stop()
		}
	}()

	return nil
}

// acceptLoop accepts control connections until the listener is closed.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"address":  ln.Addr().String(),
				"error":    err.Error(),
			}).Warn("Attempt to connect failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		sess := s.register(conn)
		if sess == nil {
			conn.Close()
			continue
		}
		go func() {
			defer s.wg.Done()
			sess.serve()
		}()
	}
}

// register creates and records a session, or returns nil once stopping.
func (s *Server) register(conn net.Conn) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	sess := newSession(s.ctx, s, conn)
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.metrics.Sessions.Inc()
	return sess
}

// unregister forgets a session after it closed.
func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		s.metrics.Sessions.Dec()
	}
}

// Stop closes every socket, ends every session and waits for their goroutines.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()

	var errs []error
	for _, ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := s.passive.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.listeners = nil
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.sessions = make(map[string]*Session)
	s.passive = nil
	s.mu.Unlock()
	s.gate.Release()

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
		"sessions": len(sessions),
	}).Info("FTP server stopped")

	return errors.Join(errs...)
}

// Restart stops the server and starts it again with the same configuration.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Addrs returns the bound control addresses.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]net.Addr, 0, len(s.listeners))
	for _, ln := range s.listeners {
		out = append(out, ln.Addr())
	}
	return out
}

// PassiveAddr returns the bound passive data address, or nil when stopped.
func (s *Server) PassiveAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.passive == nil {
		return nil
	}
	return s.passive.Addr()
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// now reads the listing clock.
func (s *Server) now() time.Time {
	s.mu.Lock()
	clock := s.clock
	s.mu.Unlock()
	return clock.Now()
}

// passivePort returns the bound passive port, or 0 when stopped.
func (s *Server) passivePort() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.passive == nil {
		return 0
	}
	return s.passive.Port()
}
