package ftp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/devicefs/datachan"
	"github.com/opd-ai/devicefs/limits"
	"github.com/opd-ai/devicefs/vpath"
	"github.com/sirupsen/logrus"
)

// Session is the per-connection command state machine.
type Session struct {
	id         string
	server     *Server
	conn       net.Conn
	reader     *bufio.Reader
	remoteAddr string
	passiveIP  net.IP

	ctx    context.Context
	cancel context.CancelFunc

	// Fields below are only touched by the session goroutine.
	cwd        string
	endpoint   datachan.Endpoint
	renameFrom string
	alive      bool
	command    string

	dataMu    sync.Mutex
	dataConn  net.Conn
	closeOnce sync.Once
}

func newSession(parent context.Context, server *Server, conn net.Conn) *Session {
	remote := datachan.HostIP(conn.RemoteAddr().String())
	remoteAddr := ""
	if remote != nil {
		remoteAddr = remote.String()
	}

	passiveIP := datachan.HostIP(conn.LocalAddr().String())
	if server.cfg.PassiveAddress != "" {
		if ip := datachan.HostIP(server.cfg.PassiveAddress); ip != nil {
			passiveIP = ip
		}
	}

	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:         uuid.NewString(),
		server:     server,
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, limits.LineBufferSize),
		remoteAddr: remoteAddr,
		passiveIP:  passiveIP,
		ctx:        ctx,
		cancel:     cancel,
		cwd:        vpath.Root,
		endpoint: datachan.Endpoint{
			Mode: datachan.Active,
			Host: remoteAddr,
			Port: datachan.DefaultActivePort,
		},
		alive: true,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// serve runs the session until the peer leaves or the server stops.
func (s *Session) serve() {
	defer s.server.unregister(s.id)
	defer s.close()

	logrus.WithFields(logrus.Fields{
		"function": "serve",
		"session":  s.id,
		"peer":     s.conn.RemoteAddr().String(),
	}).Info("FTP connection from")

	s.reply(StatusReady, fmt.Sprintf("Hello, this is the %s.", s.server.cfg.Platform))

	for s.alive {
		line, err := s.readLine()
		if errors.Is(err, limits.ErrLineTooLong) {
			s.command = "unknown"
			s.reply(StatusFail, msgFail)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "serve",
					"session":  s.id,
					"error":    err.Error(),
				}).Debug("Control connection read failed")
			}
			return
		}
		if line == "" {
			continue
		}
		s.execute(line)
	}
}

// readLine reads one command line within the command timeout. A final line
// without a terminator is still returned; the next call reports EOF.
func (s *Session) readLine() (string, error) {
	if timeout := s.server.cfg.CommandTimeout; timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", err
		}
	}

	raw, err := s.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = s.reader.ReadSlice('\n')
		}
		if err != nil {
			return "", err
		}
		return "", limits.ErrLineTooLong
	}
	if err != nil && !(errors.Is(err, io.EOF) && len(raw) > 0) {
		return "", err
	}
	if err := limits.ValidateCommandLine(raw); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// execute runs one command line under the busy gate.
func (s *Session) execute(line string) {
	command, payload, _ := strings.Cut(line, " ")
	command = strings.ToUpper(command)
	payload = strings.TrimLeft(payload, " ")

	s.command = command
	if _, ok := handlers[command]; !ok {
		s.command = "unknown"
	}

	if !s.server.gate.TryAcquire() {
		s.server.metrics.BusyRejections.Inc()
		s.reply(StatusBusy, msgBusy)
		return
	}
	defer s.server.gate.Release()

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "execute",
				"session":  s.id,
				"command":  command,
				"panic":    fmt.Sprint(r),
			}).Error("Command handler panicked")
			s.closeData()
			s.reply(StatusFail, msgFail)
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "execute",
		"session":  s.id,
		"command":  command,
		"payload":  payload,
		"cwd":      s.cwd,
	}).Debug("Command received")

	handler, ok := handlers[command]
	if !ok {
		s.reply(StatusNotImplemented, msgUnsupported)
		return
	}
	handler(s, payload, vpath.Resolve(s.cwd, payload))
}

// reply sends one "CODE MESSAGE" line.
func (s *Session) reply(code int, msg string) {
	s.server.metrics.Replies.WithLabelValues(s.command, fmt.Sprint(code)).Inc()
	s.write(fmt.Sprintf("%d %s\r\n", code, msg))
}

// write sends raw text on the control connection. A failed write ends the
// session.
func (s *Session) write(text string) {
	if !s.alive {
		return
	}
	if timeout := s.server.cfg.CommandTimeout; timeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := io.WriteString(s.conn, text); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "write",
			"session":  s.id,
			"error":    err.Error(),
		}).Debug("Control connection write failed")
		s.alive = false
		s.conn.Close()
	}
}

// openData opens the data channel for the current endpoint and tracks it so
// close can interrupt a transfer.
func (s *Session) openData() (net.Conn, error) {
	conn, err := s.server.opener.Open(s.ctx, s.endpoint)
	if err != nil {
		return nil, err
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.ctx.Err() != nil {
		conn.Close()
		return nil, s.ctx.Err()
	}
	s.dataConn = conn
	return conn, nil
}

// closeData closes the tracked data channel, if any.
func (s *Session) closeData() {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.dataConn != nil {
		s.dataConn.Close()
		s.dataConn = nil
	}
}

// close tears the session down. Safe to call from any goroutine.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close()
		s.closeData()

		logrus.WithFields(logrus.Fields{
			"function": "close",
			"session":  s.id,
		}).Debug("FTP connection closed")
	})
}
