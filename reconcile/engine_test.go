package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/digest"
	"github.com/opd-ai/devicefs/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	fsys, err := storage.NewDirFS(root)
	require.NoError(t, err)
	return NewEngine(fsys, buffer.MustNewPool(1, 64)), root
}

func put(t *testing.T, root, name, content string) Entry {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	h, err := digest.New(digest.CRC32)
	require.NoError(t, err)
	h.Update([]byte(content))
	return Entry{Path: name, Size: int64(len(content)), Hash: h.Sum()}
}

func exists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
	return err == nil
}

func TestRunReportsMatches(t *testing.T) {
	e, root := newTestEngine(t)

	a := put(t, root, "a.txt", strings.Repeat("a", 200))
	b := put(t, root, "lib/b.py", "print('b')")
	b.Path = "/lib/b.py"
	b.Hash = strings.ToUpper(b.Hash)

	res := e.Run(context.Background(), &Manifest{Algorithm: digest.CRC32, Entries: []Entry{a, b}})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"a.txt", "lib/b.py"}, res.Matches)
	assert.Equal(t, "a.txt&lib/b.py", res.String())
}

func TestRunSizeMismatchSkipped(t *testing.T) {
	e, root := newTestEngine(t)
	put(t, root, "notes.txt", strings.Repeat("n", 480))

	m := &Manifest{
		Synchronize: true,
		Algorithm:   digest.CRC32,
		Entries:     []Entry{{Path: "notes.txt", Size: 500, Hash: "deadbeef"}},
	}
	res := e.Run(context.Background(), m)
	require.NoError(t, res.Err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, NoMatches, res.String())
	assert.True(t, exists(root, "notes.txt"))
}

func TestRunSynchronizeDeletesUnreferenced(t *testing.T) {
	e, root := newTestEngine(t)

	a := put(t, root, "A", "alpha")
	b := put(t, root, "B", "bravo")
	put(t, root, "C", "charlie")
	b.Size++

	m := &Manifest{Synchronize: true, Algorithm: digest.CRC32, Entries: []Entry{a, b}}
	res := e.Run(context.Background(), m)
	require.NoError(t, res.Err)

	assert.Equal(t, "A", res.String())
	assert.Equal(t, []string{"/C"}, res.Deleted)
	assert.True(t, exists(root, "A"))
	assert.True(t, exists(root, "B"))
	assert.False(t, exists(root, "C"))
}

func TestRunHashMismatchNotDeleted(t *testing.T) {
	e, root := newTestEngine(t)
	a := put(t, root, "main.py", "v1")
	a.Hash = "00000000"

	res := e.Run(context.Background(), &Manifest{Synchronize: true, Algorithm: digest.CRC32, Entries: []Entry{a}})
	require.NoError(t, res.Err)
	assert.Equal(t, NoMatches, res.String())
	assert.True(t, exists(root, "main.py"))
}

func TestRunIdempotent(t *testing.T) {
	e, root := newTestEngine(t)
	a := put(t, root, "a.txt", "same")
	b := put(t, root, "dir/b.txt", strings.Repeat("b", 130))
	put(t, root, "extra.txt", "left alone")

	m := &Manifest{Algorithm: digest.CRC32, Entries: []Entry{a, b}}
	first := e.Run(context.Background(), m)
	second := e.Run(context.Background(), m)

	require.NoError(t, first.Err)
	assert.Equal(t, first.Matches, second.Matches)
	assert.Empty(t, first.Deleted)
	assert.Empty(t, second.Deleted)
	assert.True(t, exists(root, "extra.txt"))
}

func TestRunMissingEntrySkipped(t *testing.T) {
	e, _ := newTestEngine(t)
	res := e.Run(context.Background(), &Manifest{
		Algorithm: digest.CRC32,
		Entries:   []Entry{{Path: "ghost.py", Size: 1, Hash: "00000000"}},
	})
	assert.NoError(t, res.Err)
	assert.Equal(t, NoMatches, res.String())
}

func TestRunHashingUnavailable(t *testing.T) {
	e, root := newTestEngine(t)
	a := put(t, root, "a.txt", "alpha")
	put(t, root, "b.txt", "bravo")

	res := e.Run(context.Background(), &Manifest{Algorithm: "md4", Entries: []Entry{a}})
	assert.NoError(t, res.Err)
	assert.Equal(t, NoMatches, res.String())
	assert.True(t, exists(root, "b.txt"))

	res = e.Run(context.Background(), &Manifest{Synchronize: true, Algorithm: "md4", Entries: []Entry{a}})
	assert.NoError(t, res.Err)
	assert.Equal(t, NoMatches, res.String())
	assert.True(t, exists(root, "a.txt"))
	assert.False(t, exists(root, "b.txt"))
}

func TestRunExclusionsAndDirectories(t *testing.T) {
	e, root := newTestEngine(t)
	keep := put(t, root, "lib/keep.py", "keep")
	put(t, root, "lib/drop.py", "drop")
	put(t, root, "data/log.txt", "excluded")
	put(t, root, "old/deep/stale.bin", "stale")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "nested"), 0o755))

	m := &Manifest{
		Synchronize: true,
		Algorithm:   digest.CRC32,
		Exclude:     []string{"data"},
		Entries:     []Entry{keep},
	}
	res := e.Run(context.Background(), m)
	require.NoError(t, res.Err)

	assert.Equal(t, "lib/keep.py", res.String())
	assert.ElementsMatch(t, []string{"/lib/drop.py", "/old/deep/stale.bin"}, res.Deleted)
	assert.True(t, exists(root, "lib/keep.py"))
	assert.True(t, exists(root, "data/log.txt"))
	assert.False(t, exists(root, "old"))
	assert.False(t, exists(root, "empty"))
}

func TestRunSHA256(t *testing.T) {
	e, root := newTestEngine(t)
	put(t, root, "a.bin", "abc")

	res := e.Run(context.Background(), &Manifest{
		Algorithm: digest.SHA256,
		Entries: []Entry{{
			Path: "a.bin",
			Size: 3,
			Hash: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		}},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "a.bin", res.String())
}

func TestResultString(t *testing.T) {
	assert.Equal(t, NoMatches, Result{}.String())
	assert.Equal(t, "x&y/z", Result{Matches: []string{"x", "y/z"}}.String())
	assert.Equal(t, "ERROR: disk gone", Result{Err: errors.New("disk gone")}.String())
}

func TestRunExhaustedPool(t *testing.T) {
	e, root := newTestEngine(t)
	a := put(t, root, "a.txt", "alpha")

	held, err := e.pool.Get(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Run(ctx, &Manifest{Algorithm: digest.CRC32, Entries: []Entry{a}})
	assert.Error(t, res.Err)
	assert.True(t, strings.HasPrefix(res.String(), "ERROR: "))
}
