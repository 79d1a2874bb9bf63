package push

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostDriverSession(t *testing.T) {
	d, root := newTestDriver(t)

	host, err := Listen("127.0.0.1:0", 5*time.Second)
	require.NoError(t, err)
	defer host.Close()

	d.cfg.Host = host.Addr().String()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	peer, err := host.Accept(ctx)
	require.NoError(t, err)

	require.NoError(t, peer.Ping())

	content := bytes.Repeat([]byte("0123456789"), 250)
	var progress []int64
	err = peer.Upload("/cfg.bin", bytes.NewReader(content), int64(len(content)), func(n int64) {
		progress = append(progress, n)
	})
	require.NoError(t, err)
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(2500), progress[len(progress)-1])

	got, err := os.ReadFile(filepath.Join(root, "cfg.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	var out bytes.Buffer
	n, err := peer.Download("/cfg.bin", &out)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)
	assert.Equal(t, content, out.Bytes())

	_, err = peer.Download("/missing.bin", &out)
	assert.ErrorIs(t, err, ErrDevice)

	require.NoError(t, os.Mkdir(filepath.Join(root, "lib"), 0o755))
	err = peer.Upload("/lib", bytes.NewReader(content), int64(len(content)), nil)
	assert.ErrorIs(t, err, ErrDevice)
	assert.NotContains(t, err.Error(), root)

	require.NoError(t, peer.Ping())
	require.NoError(t, peer.Finish())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not finish")
	}
}

func TestHostAcceptCancel(t *testing.T) {
	host, err := Listen("127.0.0.1:0", time.Second)
	require.NoError(t, err)
	defer host.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = host.Accept(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDriverRunUnreachable(t *testing.T) {
	d, _ := newTestDriver(t)

	host, err := Listen("127.0.0.1:0", time.Second)
	require.NoError(t, err)
	d.cfg.Host = host.Addr().String()
	host.Close()

	assert.Error(t, d.Run(context.Background()))
}
