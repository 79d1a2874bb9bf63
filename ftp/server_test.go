package ftp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	root := t.TempDir()
	fsys, err := storage.NewDirFS(root)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Listen = []string{"127.0.0.1:0"}
	cfg.PassiveListen = "127.0.0.1:0"
	cfg.Platform = "testboard"
	cfg.CommandTimeout = 5 * time.Second
	cfg.DataTimeout = 2 * time.Second
	cfg.AcceptTimeout = 2 * time.Second

	srv := NewServer(cfg, fsys, buffer.MustNewPool(2, 64))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })
	return srv, root
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialServer(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp4", srv.Addrs()[0].String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
	require.Equal(t, "220 Hello, this is the testboard.", c.readReply())
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	require.NoError(c.t, err)
}

func (c *testClient) readReply() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

func (c *testClient) cmd(line string) string {
	c.t.Helper()
	c.send(line)
	return c.readReply()
}

var passiveReply = regexp.MustCompile(`^227 Entering Passive Mode \((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)\.$`)

// passive enters passive mode and connects to the advertised address.
func (c *testClient) passive() net.Conn {
	c.t.Helper()

	reply := c.cmd("PASV")
	m := passiveReply.FindStringSubmatch(reply)
	require.NotNil(c.t, m, "unexpected reply %q", reply)

	hi, _ := strconv.Atoi(m[5])
	lo, _ := strconv.Atoi(m[6])
	addr := net.JoinHostPort(strings.Join(m[1:5], "."), strconv.Itoa(hi*256+lo))

	data, err := net.Dial("tcp4", addr)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { data.Close() })
	return data
}

func readAll(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(data)
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestSimpleReplies(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	tests := []struct {
		line string
		want string
	}{
		{"USER anonymous", "230 Logged in."},
		{"PASS secret", "230 Logged in."},
		{"SYST", "215 UNIX Type: L8"},
		{"TYPE I", "200 OK"},
		{"noop", "200 OK"},
		{"ABOR", "200 OK"},
		{"PWD", `257 "/"`},
		{"XPWD", `257 "/"`},
		{"SITE chmod", "502 Unsupported command."},
		{"FOO bar", "502 Unsupported command."},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, c.cmd(tt.line))
		})
	}
}

func TestQuitClosesSession(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	assert.Equal(t, "221 Bye.", c.cmd("QUIT"))

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return srv.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBlankAndOversizedLines(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	c.send("")
	c.send("   ")
	assert.Equal(t, "200 OK", c.cmd("NOOP"))

	assert.Equal(t, "550 Fail", c.cmd(strings.Repeat("A", 3000)))
	assert.Equal(t, "200 OK", c.cmd("NOOP"))
	assert.Equal(t, "550 Fail", c.cmd(strings.Repeat("B", 9000)))
	assert.Equal(t, "200 OK", c.cmd("NOOP"))
}

func TestDirectoryNavigation(t *testing.T) {
	srv, root := startTestServer(t)
	c := dialServer(t, srv)

	assert.Equal(t, "250 OK", c.cmd("MKD lib"))
	assert.DirExists(t, filepath.Join(root, "lib"))
	assert.Equal(t, "250 OK", c.cmd("XMKD lib/sub"))
	assert.Equal(t, "550 Fail", c.cmd("MKD lib"))

	assert.Equal(t, "250 OK", c.cmd("CWD lib"))
	assert.Equal(t, `257 "/lib"`, c.cmd("PWD"))
	assert.Equal(t, "250 OK", c.cmd("XCWD sub"))
	assert.Equal(t, `257 "/lib/sub"`, c.cmd("PWD"))
	assert.Equal(t, "250 OK", c.cmd("CWD ../.."))
	assert.Equal(t, `257 "/"`, c.cmd("PWD"))
	assert.Equal(t, "550 Fail", c.cmd("CWD missing"))
	assert.Equal(t, `257 "/"`, c.cmd("PWD"))

	assert.Equal(t, "250 OK", c.cmd("CWD /lib/sub"))
	assert.Equal(t, "250 OK", c.cmd("CDUP"))
	assert.Equal(t, `257 "/lib"`, c.cmd("PWD"))
	assert.Equal(t, "250 OK", c.cmd("XCUP"))
	assert.Equal(t, "250 OK", c.cmd("CDUP"))
	assert.Equal(t, `257 "/"`, c.cmd("PWD"))

	assert.Equal(t, "550 Fail", c.cmd("RMD lib"))
	assert.Equal(t, "250 OK", c.cmd("RMD lib/sub"))
	assert.Equal(t, "250 OK", c.cmd("XRMD /lib"))
	assert.NoDirExists(t, filepath.Join(root, "lib"))
}

func TestFileMutations(t *testing.T) {
	srv, root := startTestServer(t)
	c := dialServer(t, srv)
	writeFile(t, root, "a.txt", "hello")

	assert.Equal(t, "550 Fail", c.cmd("RNTO b.txt"))
	assert.Equal(t, "350 Rename from", c.cmd("RNFR a.txt"))
	assert.Equal(t, "250 OK", c.cmd("RNTO b.txt"))
	assert.NoFileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "b.txt"))
	assert.Equal(t, "550 Fail", c.cmd("RNTO c.txt"))
	assert.Equal(t, "550 Fail", c.cmd("RNFR missing.txt"))

	assert.Equal(t, "213 5", c.cmd("SIZE b.txt"))
	assert.Equal(t, "550 Fail", c.cmd("SIZE a.txt"))

	mtime := time.Date(2025, 3, 4, 10, 20, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "b.txt"), mtime, mtime))
	assert.Equal(t, "213 20250304102000", c.cmd("MDTM /b.txt"))

	assert.Equal(t, "250 OK", c.cmd("DELE b.txt"))
	assert.NoFileExists(t, filepath.Join(root, "b.txt"))
	assert.Equal(t, "550 Fail", c.cmd("DELE b.txt"))
}

func TestRetrievePassive(t *testing.T) {
	srv, root := startTestServer(t)
	c := dialServer(t, srv)

	content := strings.Repeat("0123456789", 50)
	writeFile(t, root, "lib/data.bin", content)

	data := c.passive()
	c.send("RETR /lib/data.bin")
	assert.Equal(t, "150 Opened data connection.", c.readReply())
	assert.Equal(t, content, readAll(t, data))
	assert.Equal(t, "226 Done.", c.readReply())

	assert.Equal(t, float64(len(content)), testutil.ToFloat64(srv.Metrics().Bytes.WithLabelValues("outgoing")))
}

func TestRetrieveExtendedPassive(t *testing.T) {
	srv, root := startTestServer(t)
	c := dialServer(t, srv)
	writeFile(t, root, "boot.py", "print(1)")

	port := srv.PassiveAddr().(*net.TCPAddr).Port
	require.Equal(t, fmt.Sprintf("229 Entering Extended Passive Mode (|||%d|).", port), c.cmd("EPSV"))

	data, err := net.Dial("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer data.Close()

	c.send("RETR boot.py")
	assert.Equal(t, "150 Opened data connection.", c.readReply())
	assert.Equal(t, "print(1)", readAll(t, data))
	assert.Equal(t, "226 Done.", c.readReply())
}

func TestRetrieveMissingFile(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	data := c.passive()
	c.send("RETR missing.py")
	assert.Equal(t, "150 Opened data connection.", c.readReply())
	assert.Equal(t, "550 Fail", c.readReply())
	assert.Equal(t, "", readAll(t, data))
}

func TestStoreAndAppendPassive(t *testing.T) {
	srv, root := startTestServer(t)
	c := dialServer(t, srv)

	data := c.passive()
	c.send("STOR main.py")
	assert.Equal(t, "150 Opened data connection.", c.readReply())
	_, err := io.WriteString(data, "print('a')\n")
	require.NoError(t, err)
	require.NoError(t, data.Close())
	assert.Equal(t, "226 Done.", c.readReply())

	data = c.passive()
	c.send("APPE main.py")
	assert.Equal(t, "150 Opened data connection.", c.readReply())
	_, err = io.WriteString(data, "print('b')\n")
	require.NoError(t, err)
	require.NoError(t, data.Close())
	assert.Equal(t, "226 Done.", c.readReply())

	got, err := os.ReadFile(filepath.Join(root, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('a')\nprint('b')\n", string(got))
	assert.Equal(t, float64(22), testutil.ToFloat64(srv.Metrics().Bytes.WithLabelValues("incoming")))
}

func activeListener(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	port := ln.Addr().(*net.TCPAddr).Port
	return ln, fmt.Sprintf("%d,%d", port>>8, port&0xff)
}

func TestRetrieveActive(t *testing.T) {
	srv, root := startTestServer(t)
	c := dialServer(t, srv)
	writeFile(t, root, "boot.py", "import os\n")

	for _, host := range []string{"127,0,0,1", "127,0,1,1"} {
		t.Run(host, func(t *testing.T) {
			ln, port := activeListener(t)
			assert.Equal(t, "200 OK", c.cmd("PORT "+host+","+port))

			received := make(chan string, 1)
			go func() {
				conn, err := ln.Accept()
				if err != nil {
					received <- err.Error()
					return
				}
				defer conn.Close()
				data, _ := io.ReadAll(conn)
				received <- string(data)
			}()

			c.send("RETR boot.py")
			assert.Equal(t, "150 Opened data connection.", c.readReply())
			assert.Equal(t, "226 Done.", c.readReply())
			assert.Equal(t, "import os\n", <-received)
		})
	}
}

func TestPortRejectsMalformedEndpoint(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	assert.Equal(t, "504 Fail", c.cmd("PORT 1,2,3"))
	assert.Equal(t, "504 Fail", c.cmd("PORT a,b,c,d,e,f"))
	assert.Equal(t, "504 Fail", c.cmd("PORT 127,0,0,1,300,1"))
}

func TestActiveConnectFailure(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	ln, port := activeListener(t)
	ln.Close()

	assert.Equal(t, "200 OK", c.cmd("PORT 127,0,0,1,"+port))
	assert.Equal(t, "550 Fail", c.cmd("RETR anything"))
	assert.False(t, srv.Busy())
}

func TestListing(t *testing.T) {
	srv, root := startTestServer(t)
	srv.SetTimeProvider(FixedTimeProvider{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)})
	c := dialServer(t, srv)

	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b.py", "x")
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	recent := time.Date(2025, 3, 4, 10, 20, 0, 0, time.Local)
	old := time.Date(2023, 1, 2, 8, 0, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), recent, recent))
	require.NoError(t, os.Chtimes(filepath.Join(root, "sub"), old, old))

	t.Run("NLST", func(t *testing.T) {
		data := c.passive()
		c.send("NLST")
		assert.Equal(t, "150 Directory listing:", c.readReply())
		assert.Equal(t, "a.txt\r\nb.py\r\nsub\r\n", readAll(t, data))
		assert.Equal(t, "226 Done.", c.readReply())
	})

	t.Run("NLST wildcard", func(t *testing.T) {
		data := c.passive()
		c.send("NLST /*.txt")
		assert.Equal(t, "150 Directory listing:", c.readReply())
		assert.Equal(t, "a.txt\r\n", readAll(t, data))
		assert.Equal(t, "226 Done.", c.readReply())
	})

	t.Run("LIST", func(t *testing.T) {
		data := c.passive()
		c.send("LIST -a /")
		assert.Equal(t, "150 Directory listing:", c.readReply())
		listing := readAll(t, data)
		assert.Equal(t, "226 Done.", c.readReply())

		lines := strings.Split(strings.TrimSuffix(listing, "\r\n"), "\r\n")
		require.Len(t, lines, 3)
		assert.Equal(t, "-rw-r--r-- 1 owner group          5 Mar  4 10:20 a.txt", lines[0])
		assert.True(t, strings.HasPrefix(lines[2], "drwxr-xr-x 1 owner group "))
		assert.True(t, strings.HasSuffix(lines[2], " Jan  2  2023 sub"))
	})

	t.Run("NLST long option", func(t *testing.T) {
		data := c.passive()
		c.send("NLST -l a.txt")
		assert.Equal(t, "150 Directory listing:", c.readReply())
		assert.Equal(t, "-rw-r--r-- 1 owner group          5 Mar  4 10:20 a.txt\r\n", readAll(t, data))
		assert.Equal(t, "226 Done.", c.readReply())
	})
}

func TestStat(t *testing.T) {
	srv, root := startTestServer(t)
	srv.SetTimeProvider(FixedTimeProvider{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)})
	c := dialServer(t, srv)

	writeFile(t, root, "a.txt", "hello")
	mtime := time.Date(2025, 3, 4, 10, 20, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), mtime, mtime))

	c.send("STAT")
	assert.Equal(t, "211-Connected to (127.0.0.1)", c.readReply())
	assert.True(t, strings.HasPrefix(c.readReply(), "    Data address (127.0.0.1:20"))
	assert.Equal(t, "    TYPE: Binary STRU: File MODE: Stream", c.readReply())
	assert.Equal(t, "    Session timeout 5", c.readReply())
	assert.Equal(t, "211 Client count is 1", c.readReply())

	c.send("STAT /")
	assert.Equal(t, "213-Directory listing:", c.readReply())
	assert.Equal(t, "-rw-r--r-- 1 owner group          5 Mar  4 10:20 a.txt", c.readReply())
	assert.Equal(t, "213 Done.", c.readReply())
}

func TestBusyGateRejectsOtherSessions(t *testing.T) {
	srv, root := startTestServer(t)
	writeFile(t, root, "big.bin", "payload")

	first := dialServer(t, srv)
	second := dialServer(t, srv)

	reply := first.cmd("PASV")
	m := passiveReply.FindStringSubmatch(reply)
	require.NotNil(t, m)

	// RETR blocks in accept until the data connection arrives.
	first.send("RETR big.bin")
	require.Eventually(t, srv.Busy, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "400 Device busy.", second.cmd("NOOP"))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.Metrics().BusyRejections))

	data, err := net.Dial("tcp4", srv.PassiveAddr().String())
	require.NoError(t, err)
	defer data.Close()

	assert.Equal(t, "150 Opened data connection.", first.readReply())
	assert.Equal(t, "payload", readAll(t, data))
	assert.Equal(t, "226 Done.", first.readReply())

	assert.False(t, srv.Busy())
	assert.Equal(t, "200 OK", second.cmd("NOOP"))
}

func TestReplyMetrics(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)

	c.cmd("NOOP")
	c.cmd("NOOP")
	c.cmd("BOGUS")

	m := srv.Metrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Replies.WithLabelValues("NOOP", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Replies.WithLabelValues("unknown", "502")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Sessions))
}

func TestStopClosesSessions(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dialServer(t, srv)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop())
	assert.Equal(t, 0, srv.SessionCount())
	assert.Nil(t, srv.PassiveAddr())
	assert.Empty(t, srv.Addrs())

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.r.ReadByte()
	assert.Error(t, err)

	// Stopping twice is harmless.
	assert.NoError(t, srv.Stop())
}

func TestStartTwice(t *testing.T) {
	srv, _ := startTestServer(t)
	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerRunning)
}

func TestRestart(t *testing.T) {
	srv, _ := startTestServer(t)
	require.NoError(t, srv.Restart(context.Background()))

	c := dialServer(t, srv)
	assert.Equal(t, "200 OK", c.cmd("NOOP"))
}

func TestContextCancelStopsServer(t *testing.T) {
	root := t.TempDir()
	fsys, err := storage.NewDirFS(root)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Listen = []string{"127.0.0.1:0"}
	cfg.PassiveListen = "127.0.0.1:0"

	srv := NewServer(cfg, fsys, buffer.MustNewPool(1, 64))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return srv.PassiveAddr() == nil }, 2*time.Second, 10*time.Millisecond)
}
