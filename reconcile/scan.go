package reconcile

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/opd-ai/devicefs/buffer"
	"github.com/opd-ai/devicefs/digest"
	"github.com/opd-ai/devicefs/storage"
	"github.com/opd-ai/devicefs/vpath"
)

// Record describes one scanned entry.
type Record struct {
	Path string
	Dir  bool
	Size int64
	Hash string
}

// String renders "path&type&size&hash", type 1 for directories and 0 for
// files. Directories carry the hash "0".
func (r Record) String() string {
	kind := 0
	if r.Dir {
		kind = 1
	}
	return fmt.Sprintf("%s&%d&%d&%s", r.Path, kind, r.Size, r.Hash)
}

// Scan walks the tree under start in pre-order, hashing every regular file
// with alg. Excluded prefixes and special entries are skipped.
func Scan(ctx context.Context, fsys storage.FS, pool *buffer.Pool, alg digest.Algorithm, start string, exclude []string) ([]Record, error) {
	hasher, err := digest.New(alg)
	if err != nil {
		return nil, err
	}
	buf, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	s := &scanner{fs: fsys, hasher: hasher, buf: buf.Bytes(), exclude: cleanPrefixes(exclude)}
	if err := s.walk(ctx, vpath.Clean(start)); err != nil {
		return nil, err
	}
	return s.records, nil
}

type scanner struct {
	fs      storage.FS
	hasher  *digest.Hasher
	buf     []byte
	exclude []string
	records []Record
}

func (s *scanner) walk(ctx context.Context, dir string) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := vpath.Join(dir, entry.Name())
		if excluded(p, s.exclude) {
			continue
		}
		if !entry.Type().IsRegular() && !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		rec, err := s.record(p, info)
		if err != nil {
			return err
		}
		s.records = append(s.records, rec)

		if rec.Dir {
			if err := s.walk(ctx, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *scanner) record(p string, info fs.FileInfo) (Record, error) {
	if entryKind(info) == 1 {
		return Record{Path: p, Dir: true, Hash: "0"}, nil
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	sum, err := s.hasher.SumReader(f, s.buf)
	if err != nil {
		return Record{}, fmt.Errorf("hash %s: %w", p, err)
	}
	return Record{Path: p, Size: info.Size(), Hash: sum}, nil
}
