package ftp

import (
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/opd-ai/devicefs/storage"
	"github.com/opd-ai/devicefs/vpath"
)

type entry struct {
	name string
	info fs.FileInfo
}

// collectEntries lists path when it is a directory. Otherwise the last
// component selects entries of its parent directory: by pattern when it holds
// a wildcard, by exact name when it does not.
func collectEntries(fsys storage.FS, path string) ([]entry, error) {
	dir, pattern := path, ""
	if !storage.IsDir(fsys, path) {
		dir, pattern = vpath.Split(path)
	}

	items, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(items))
	for _, item := range items {
		if !selects(pattern, item.Name()) {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entry{name: item.Name(), info: info})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	return entries, nil
}

func selects(pattern, name string) bool {
	switch {
	case pattern == "":
		return true
	case vpath.HasWildcard(pattern):
		return vpath.Match(name, pattern)
	default:
		return name == pattern
	}
}

// formatLong renders one "ls -l" style line. Entries modified in another
// calendar year than now show the year instead of the time of day.
func formatLong(e entry, now time.Time) string {
	mode := "-rw-r--r--"
	if e.info.IsDir() {
		mode = "drwxr-xr-x"
	}

	mtime := e.info.ModTime()
	stamp := mtime.Format("15:04")
	if mtime.Year() != now.Year() {
		stamp = fmt.Sprintf("%5d", mtime.Year())
	}

	return fmt.Sprintf("%s 1 owner group %10d %s %2d %s %s\r\n",
		mode, e.info.Size(), mtime.Format("Jan"), mtime.Day(), stamp, e.name)
}
