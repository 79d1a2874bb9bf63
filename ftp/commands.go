package ftp

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opd-ai/devicefs/datachan"
	"github.com/opd-ai/devicefs/storage"
	"github.com/opd-ai/devicefs/transfer"
	"github.com/opd-ai/devicefs/vpath"
	"github.com/sirupsen/logrus"
)

// handlerFunc executes one command. path is the payload resolved against the
// working directory.
type handlerFunc func(s *Session, payload, path string)

var handlers = map[string]handlerFunc{
	"USER": cmdLogin,
	"PASS": cmdLogin,
	"SYST": cmdSyst,
	"NOOP": cmdOK,
	"TYPE": cmdOK,
	"ABOR": cmdOK,
	"QUIT": cmdQuit,
	"PWD":  cmdPwd,
	"XPWD": cmdPwd,
	"CWD":  cmdCwd,
	"XCWD": cmdCwd,
	"CDUP": cmdCdup,
	"XCUP": cmdCdup,
	"PASV": cmdPasv,
	"EPSV": cmdEpsv,
	"PORT": cmdPort,
	"LIST": cmdList,
	"NLST": cmdList,
	"RETR": cmdRetr,
	"STOR": cmdStore,
	"APPE": cmdStore,
	"SIZE": cmdSize,
	"MDTM": cmdMdtm,
	"STAT": cmdStat,
	"DELE": cmdDele,
	"RNFR": cmdRnfr,
	"RNTO": cmdRnto,
	"MKD":  cmdMkd,
	"XMKD": cmdMkd,
	"RMD":  cmdRmd,
	"XRMD": cmdRmd,
}

func cmdLogin(s *Session, _, _ string) { s.reply(StatusLoggedIn, msgLoggedIn) }

func cmdSyst(s *Session, _, _ string) { s.reply(StatusSystemType, msgSystemType) }

func cmdOK(s *Session, _, _ string) { s.reply(StatusOK, msgOK) }

func cmdQuit(s *Session, _, _ string) {
	s.reply(StatusClosing, msgBye)
	s.alive = false
}

func cmdPwd(s *Session, _, _ string) {
	s.reply(StatusPathCreated, strconv.Quote(s.cwd))
}

func cmdCwd(s *Session, _, path string) {
	if !storage.IsDir(s.server.fs, path) {
		s.reply(StatusFail, msgFail)
		return
	}
	s.cwd = path
	s.reply(StatusFileActionOK, msgOK)
}

func cmdCdup(s *Session, _, _ string) {
	s.cwd = vpath.Resolve(s.cwd, "..")
	s.reply(StatusFileActionOK, msgOK)
}

func cmdPasv(s *Session, _, _ string) {
	encoded, err := datachan.FormatPassive(s.passiveIP, s.server.passivePort())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "cmdPasv",
			"session":  s.id,
			"error":    err.Error(),
		}).Warn("Cannot advertise passive address")
		s.reply(StatusFail, msgFail)
		return
	}
	s.endpoint = datachan.Endpoint{Mode: datachan.Passive}
	s.reply(StatusPassive, fmt.Sprintf("Entering Passive Mode (%s).", encoded))
}

// cmdEpsv advertises only the passive port; the client reuses the control
// connection's host.
func cmdEpsv(s *Session, _, _ string) {
	port := s.server.passivePort()
	if port == 0 {
		s.reply(StatusFail, msgFail)
		return
	}
	s.endpoint = datachan.Endpoint{Mode: datachan.Passive}
	s.reply(StatusExtendedPassive, fmt.Sprintf("Entering Extended Passive Mode (|||%d|).", port))
}

func cmdPort(s *Session, payload, _ string) {
	host, port, err := datachan.ParseActive(payload)
	if err != nil {
		s.reply(StatusBadParameter, msgFail)
		return
	}
	if host == datachan.LoopbackPlaceholder {
		host = s.remoteAddr
	}
	s.endpoint = datachan.Endpoint{Mode: datachan.Active, Host: host, Port: port}
	s.reply(StatusOK, msgOK)
}

func cmdList(s *Session, payload, path string) {
	long := s.command == "LIST"
	if strings.HasPrefix(payload, "-") {
		options, rest, _ := strings.Cut(payload, " ")
		long = long || strings.Contains(options, "l")
		path = vpath.Resolve(s.cwd, strings.TrimLeft(rest, " "))
	}

	conn, err := s.openData()
	if err != nil {
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusDataOpen, msgListing)

	entries, err := collectEntries(s.server.fs, path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "cmdList",
			"session":  s.id,
			"path":     path,
			"error":    err.Error(),
		}).Debug("Listing failed")
	}
	now := s.server.now()
	for _, e := range entries {
		line := e.name + "\r\n"
		if long {
			line = formatLong(e, now)
		}
		if _, err := io.WriteString(conn, line); err != nil {
			s.closeData()
			s.reply(StatusFail, msgFail)
			return
		}
	}
	s.closeData()
	s.reply(StatusTransferDone, msgDone)
}

func cmdRetr(s *Session, _, path string) {
	conn, err := s.openData()
	if err != nil {
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusDataOpen, msgDataOpened)

	err = s.pump(path, transfer.DirectionOutgoing, func() (io.Reader, io.Writer, io.Closer, error) {
		src, err := s.server.fs.Open(path)
		if err != nil {
			return nil, nil, nil, err
		}
		return src, conn, src, nil
	})
	s.finishData(path, err)
}

func cmdStore(s *Session, _, path string) {
	appending := s.command == "APPE"

	conn, err := s.openData()
	if err != nil {
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusDataOpen, msgDataOpened)

	err = s.pump(path, transfer.DirectionIncoming, func() (io.Reader, io.Writer, io.Closer, error) {
		var (
			dst io.WriteCloser
			err error
		)
		if appending {
			dst, err = s.server.fs.Append(path)
		} else {
			dst, err = s.server.fs.Create(path)
		}
		if err != nil {
			return nil, nil, nil, err
		}
		return conn, dst, dst, nil
	})
	s.finishData(path, err)
}

// pump moves one file between storage and the open data channel through a
// pooled buffer. open returns the reader, the writer and the storage side to
// close afterwards.
func (s *Session) pump(path string, dir transfer.Direction, open func() (io.Reader, io.Writer, io.Closer, error)) error {
	buf, err := s.server.pool.Get(s.ctx)
	if err != nil {
		return err
	}
	defer buf.Release()

	src, dst, closer, err := open()
	if err != nil {
		return err
	}

	size := int64(transfer.UnknownSize)
	if dir == transfer.DirectionOutgoing {
		if info, err := s.server.fs.Stat(path); err == nil {
			size = info.Size()
		}
	}

	t := transfer.New(path, size, dir)
	moved, err := t.Pump(dst, src, buf.Bytes())
	s.server.metrics.Bytes.WithLabelValues(dir.String()).Add(float64(moved))

	if cerr := closer.Close(); err == nil {
		err = cerr
	}
	return err
}

// finishData closes the data channel and sends the final transfer reply.
func (s *Session) finishData(path string, err error) {
	s.closeData()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "finishData",
			"session":  s.id,
			"command":  s.command,
			"path":     path,
			"error":    err.Error(),
		}).Warn("Transfer failed")
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusTransferDone, msgDone)
}

func cmdSize(s *Session, _, path string) {
	info, err := s.server.fs.Stat(path)
	if err != nil {
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusFileStatus, strconv.FormatInt(info.Size(), 10))
}

func cmdMdtm(s *Session, _, path string) {
	info, err := s.server.fs.Stat(path)
	if err != nil {
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusFileStatus, info.ModTime().UTC().Format("20060102150405"))
}

func cmdStat(s *Session, payload, path string) {
	if payload == "" {
		var b strings.Builder
		fmt.Fprintf(&b, "%d-Connected to (%s)\r\n", StatusSystemStatus, s.remoteAddr)
		fmt.Fprintf(&b, "    Data address (%s)\r\n", s.dataAddress())
		b.WriteString("    TYPE: Binary STRU: File MODE: Stream\r\n")
		fmt.Fprintf(&b, "    Session timeout %d\r\n", int(s.server.cfg.CommandTimeout.Seconds()))
		s.write(b.String())
		s.reply(StatusSystemStatus, fmt.Sprintf("Client count is %d", s.server.SessionCount()))
		return
	}

	entries, _ := collectEntries(s.server.fs, path)
	now := s.server.now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d-%s\r\n", StatusFileStatus, msgListing)
	for _, e := range entries {
		b.WriteString(formatLong(e, now))
	}
	s.write(b.String())
	s.reply(StatusFileStatus, msgDone)
}

// dataAddress describes the endpoint the next data channel will use.
func (s *Session) dataAddress() string {
	if s.endpoint.Mode == datachan.Passive {
		return fmt.Sprintf("%s:%d passive", s.passiveIP, s.server.passivePort())
	}
	return s.endpoint.Address()
}

func cmdDele(s *Session, _, path string) {
	s.mutate(path, s.server.fs.Remove(path))
}

func cmdRnfr(s *Session, _, path string) {
	if _, err := s.server.fs.Stat(path); err != nil {
		s.renameFrom = ""
		s.reply(StatusFail, msgFail)
		return
	}
	s.renameFrom = path
	s.reply(StatusPendingInfo, msgRenameFrom)
}

func cmdRnto(s *Session, _, path string) {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		s.reply(StatusFail, msgFail)
		return
	}
	s.mutate(path, s.server.fs.Rename(from, path))
}

func cmdMkd(s *Session, _, path string) {
	s.mutate(path, s.server.fs.Mkdir(path))
}

func cmdRmd(s *Session, _, path string) {
	s.mutate(path, s.server.fs.Rmdir(path))
}

// mutate replies to a file system mutation.
func (s *Session) mutate(path string, err error) {
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "mutate",
			"session":  s.id,
			"command":  s.command,
			"path":     path,
			"error":    err.Error(),
		}).Debug("File system operation failed")
		s.reply(StatusFail, msgFail)
		return
	}
	s.reply(StatusFileActionOK, msgOK)
}
