package reconcile

import (
	"io/fs"
	"sort"
	"strings"

	"github.com/opd-ai/devicefs/storage"
	"github.com/opd-ai/devicefs/vpath"
)

// Inventory is the local working set of a synchronizing run.
type Inventory struct {
	Files map[string]struct{}
	Dirs  []string
}

// Walk records every regular file and directory under the root, skipping
// paths equal to or nested under an excluded prefix. Symbolic links and other
// special entries are ignored.
func Walk(fsys storage.FS, exclude []string) (*Inventory, error) {
	inv := &Inventory{Files: make(map[string]struct{})}
	prefixes := cleanPrefixes(exclude)
	if err := inv.walk(fsys, vpath.Root, prefixes); err != nil {
		return nil, err
	}
	return inv, nil
}

func (inv *Inventory) walk(fsys storage.FS, dir string, exclude []string) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		p := vpath.Join(dir, entry.Name())
		if excluded(p, exclude) {
			continue
		}

		switch mode := entry.Type(); {
		case mode.IsRegular():
			inv.Files[p] = struct{}{}
		case mode.IsDir():
			inv.Dirs = append(inv.Dirs, p)
			if err := inv.walk(fsys, p, exclude); err != nil {
				return err
			}
		}
	}
	return nil
}

// Forget marks a path as accounted for.
func (inv *Inventory) Forget(p string) {
	delete(inv.Files, p)
}

// Remaining returns the unreferenced files in lexical order.
func (inv *Inventory) Remaining() []string {
	out := make([]string, 0, len(inv.Files))
	for p := range inv.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// DirsDeepestFirst returns the recorded directories, children before parents.
func (inv *Inventory) DirsDeepestFirst() []string {
	out := append([]string(nil), inv.Dirs...)
	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], vpath.Separator), strings.Count(out[j], vpath.Separator)
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}

func cleanPrefixes(exclude []string) []string {
	out := make([]string, 0, len(exclude))
	for _, p := range exclude {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, vpath.Clean(p))
	}
	return out
}

func excluded(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if vpath.Within(p, prefix) {
			return true
		}
	}
	return false
}

// entryKind classifies a stat result for records.
func entryKind(info fs.FileInfo) int {
	if info.IsDir() {
		return 1
	}
	return 0
}
