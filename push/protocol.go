package push

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/devicefs/limits"
)

// Protocol lines.
const (
	LinePing     = "PING"
	LinePong     = "PONG"
	LineContinue = "CONTINUE"
	LineDone     = "DONE"
	LineFinished = "FINISHED"

	prefixUpload   = "UPLOAD"
	prefixDownload = "DOWNLOAD"
	prefixWrote    = "WROTE "
	prefixSize     = "SIZE:"
	prefixError    = "ERROR: "
)

var (
	// ErrMalformedHeader indicates an UPLOAD or DOWNLOAD line without the
	// expected quoted fields.
	ErrMalformedHeader = errors.New("malformed transfer header")

	// ErrDevice wraps an "ERROR: <message>" line received from the device.
	ErrDevice = errors.New("device error")

	// ErrUnexpectedReply indicates a line that does not fit the protocol state.
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// ParseUpload extracts the destination path and byte count from an upload
// header. Both `UPLOAD "<path>" "<n>"` and `UPLOAD:"<path>"&SIZE:"<n>"` carry
// them as the second and fourth quote-delimited fields.
func ParseUpload(line string) (path string, size int64, err error) {
	parts := strings.Split(line, `"`)
	if len(parts) < 4 || parts[1] == "" {
		return "", 0, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	size, err = strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("%w: bad size in %q", ErrMalformedHeader, line)
	}
	return parts[1], size, nil
}

// ParseDownload extracts the source path from a download header.
func ParseDownload(line string) (string, error) {
	parts := strings.Split(line, `"`)
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedHeader, line)
	}
	return parts[1], nil
}

// FormatUpload builds the upload header the host sends.
func FormatUpload(path string, size int64) string {
	return fmt.Sprintf(`%s:"%s"&SIZE:"%d"`, prefixUpload, path, size)
}

// FormatDownload builds the download header the host sends.
func FormatDownload(path string) string {
	return fmt.Sprintf(`%s:"%s"`, prefixDownload, path)
}

// lineConn reads and writes protocol lines. Raw content shares the same
// buffered reader so no bytes are lost between a header and its payload.
type lineConn struct {
	conn net.Conn
	r    *bufio.Reader
	idle time.Duration
}

func newLineConn(conn net.Conn, idle time.Duration) *lineConn {
	return &lineConn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, limits.LineBufferSize),
		idle: idle,
	}
}

// readLine returns the next line without its terminator. A final unterminated
// line is returned before EOF.
func (c *lineConn) readLine() (string, error) {
	c.extend()

	raw, err := c.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = c.r.ReadSlice('\n')
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
	return strings.TrimRight(string(raw), "\r\n"), nil
}

// writeLine sends text followed by CRLF.
func (c *lineConn) writeLine(text string) error {
	if c.idle > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.idle))
	}
	_, err := io.WriteString(c.conn, text+"\r\n")
	return err
}

// Read reads raw content, refreshing the idle deadline.
func (c *lineConn) Read(p []byte) (int, error) {
	c.extend()
	return c.r.Read(p)
}

// Write writes raw content, refreshing the idle deadline.
func (c *lineConn) Write(p []byte) (int, error) {
	if c.idle > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.idle))
	}
	return c.conn.Write(p)
}

func (c *lineConn) extend() {
	if c.idle > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.idle))
	}
}

// deviceError converts an "ERROR: " line into an error, or returns nil.
func deviceError(line string) error {
	if msg, ok := strings.CutPrefix(line, prefixError); ok {
		return fmt.Errorf("%w: %s", ErrDevice, msg)
	}
	if strings.HasPrefix(line, "ERROR") {
		return fmt.Errorf("%w: %s", ErrDevice, strings.TrimPrefix(line, "ERROR"))
	}
	return nil
}
