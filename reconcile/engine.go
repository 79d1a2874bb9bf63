package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/digest"
	"github.com/opd-ai/devicefs/storage"
	"github.com/opd-ai/devicefs/vpath"
	"github.com/sirupsen/logrus"
)

// NoMatches is the result text when no file is already present.
const NoMatches = "NO MATCHES"

// Result is the outcome of one reconciliation run.
type Result struct {
	// Matches holds manifest paths, without the leading separator, whose
	// local size and hash agree with the manifest.
	Matches []string
	// Deleted holds the unreferenced files removed while synchronizing.
	Deleted []string
	Err     error
}

// String renders the result in its wire form.
func (r Result) String() string {
	if r.Err != nil {
		return "ERROR: " + r.Err.Error()
	}
	if len(r.Matches) == 0 {
		return NoMatches
	}
	return strings.Join(r.Matches, "&")
}

// Engine runs reconciliations against one storage.
type Engine struct {
	fs   storage.FS
	pool *buffer.Pool
}

// NewEngine creates an engine hashing through buffers from pool.
func NewEngine(fsys storage.FS, pool *buffer.Pool) *Engine {
	return &Engine{fs: fsys, pool: pool}
}

// Run reconciles the storage against m. It never panics; failures are
// reported through Result.Err.
func (e *Engine) Run(ctx context.Context, m *Manifest) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%v", r)}
		}
		if res.Err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Run",
				"error":    res.Err.Error(),
			}).Error("Reconciliation failed")
		}
	}()

	hasher, herr := digest.New(m.Algorithm)
	if herr != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Run",
			"algorithm": string(m.Algorithm),
		}).Warn("Hashing unavailable, nothing can match")
		if !m.Synchronize {
			return Result{}
		}
	}

	var inv *Inventory
	if m.Synchronize {
		var err error
		inv, err = Walk(e.fs, m.Exclude)
		if err != nil {
			return Result{Err: fmt.Errorf("inventory: %w", err)}
		}
	}

	buf, err := e.pool.Get(ctx)
	if err != nil {
		return Result{Err: err}
	}
	defer buf.Release()

	for _, entry := range m.Entries {
		p := vpath.Clean(entry.Path)

		info, err := e.fs.Stat(p)
		if err != nil {
			continue
		}
		if inv != nil {
			inv.Forget(p)
		}
		if hasher == nil || info.IsDir() || info.Size() != entry.Size {
			continue
		}

		sum, err := e.hashFile(hasher, p, buf.Bytes())
		if err != nil {
			return Result{Err: fmt.Errorf("hash %s: %w", p, err)}
		}
		if digest.Equal(sum, entry.Hash) {
			res.Matches = append(res.Matches, vpath.Rel(p))
		}
	}

	if inv != nil {
		for _, p := range inv.Remaining() {
			if err := e.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return Result{Matches: res.Matches, Deleted: res.Deleted, Err: fmt.Errorf("remove %s: %w", p, err)}
			}
			res.Deleted = append(res.Deleted, p)
		}
		for _, dir := range inv.DirsDeepestFirst() {
			// Non-empty directories are expected to stay.
			_ = e.fs.Rmdir(dir)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"entries":  len(m.Entries),
		"matches":  len(res.Matches),
		"deleted":  len(res.Deleted),
	}).Info("Reconciliation complete")

	return res
}

func (e *Engine) hashFile(h *digest.Hasher, p string, buf []byte) (string, error) {
	f, err := e.fs.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return h.SumReader(f, buf)
}
