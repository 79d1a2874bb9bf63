// Package storage exposes the device file system addressed by absolute device
// paths ("/lib/x.py"). DirFS maps those paths under a host directory.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/opd-ai/devicefs/vpath"
	"github.com/sirupsen/logrus"
)

// ErrIsDirectory is returned when a file operation targets a directory.
var ErrIsDirectory = errors.New("is a directory")

// ErrNotDirectory is returned when a directory operation targets a file.
var ErrNotDirectory = errors.New("not a directory")

// FS is the set of storage operations the protocol engines need.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Append(name string) (io.WriteCloser, error)
	Remove(name string) error
	Mkdir(name string) error
	MkdirAll(name string) error
	Rmdir(name string) error
	Rename(from, to string) error
	RemoveAll(name string) error
}

// DirFS is an FS backed by a host directory.
type DirFS struct {
	root string
}

// NewDirFS returns a DirFS rooted at root, which must be an existing directory.
func NewDirFS(root string) (*DirFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s: %w", root, ErrNotDirectory)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewDirFS",
		"root":     abs,
	}).Debug("Storage root opened")

	return &DirFS{root: abs}, nil
}

// Root returns the host directory backing the device root.
func (d *DirFS) Root() string { return d.root }

// HostPath maps a device path to its host location. The device path is cleaned
// first, so the result never escapes the root.
func (d *DirFS) HostPath(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(vpath.Clean(name)))
}

// Stat describes the named entry.
func (d *DirFS) Stat(name string) (fs.FileInfo, error) {
	info, err := os.Stat(d.HostPath(name))
	return info, d.deviceErr(err)
}

// ReadDir lists the named directory sorted by name.
func (d *DirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(d.HostPath(name))
	return entries, d.deviceErr(err)
}

// Open opens a regular file for reading.
func (d *DirFS) Open(name string) (io.ReadCloser, error) {
	p := d.HostPath(name)
	info, err := os.Stat(p)
	if err != nil {
		return nil, d.deviceErr(err)
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrIsDirectory}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, d.deviceErr(err)
	}
	return f, nil
}

// Create creates or truncates a file for writing.
func (d *DirFS) Create(name string) (io.WriteCloser, error) {
	f, err := os.Create(d.HostPath(name))
	if err != nil {
		return nil, d.deviceErr(err)
	}
	return f, nil
}

// Append opens a file for appending, creating it if needed.
func (d *DirFS) Append(name string) (io.WriteCloser, error) {
	f, err := os.OpenFile(d.HostPath(name), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, d.deviceErr(err)
	}
	return f, nil
}

// Remove deletes a file. Directories are refused; use Rmdir.
func (d *DirFS) Remove(name string) error {
	p := d.HostPath(name)
	info, err := os.Lstat(p)
	if err != nil {
		return d.deviceErr(err)
	}
	if info.IsDir() {
		return &fs.PathError{Op: "remove", Path: name, Err: ErrIsDirectory}
	}
	return d.deviceErr(os.Remove(p))
}

// Mkdir creates a single directory.
func (d *DirFS) Mkdir(name string) error {
	return d.deviceErr(os.Mkdir(d.HostPath(name), 0o755))
}

// MkdirAll creates a directory and any missing parents.
func (d *DirFS) MkdirAll(name string) error {
	return d.deviceErr(os.MkdirAll(d.HostPath(name), 0o755))
}

// Rmdir removes an empty directory. Files are refused; use Remove.
func (d *DirFS) Rmdir(name string) error {
	p := d.HostPath(name)
	info, err := os.Lstat(p)
	if err != nil {
		return d.deviceErr(err)
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "rmdir", Path: name, Err: ErrNotDirectory}
	}
	if vpath.Clean(name) == vpath.Root {
		return &fs.PathError{Op: "rmdir", Path: name, Err: fs.ErrPermission}
	}
	return d.deviceErr(os.Remove(p))
}

// Rename moves from to to.
func (d *DirFS) Rename(from, to string) error {
	return d.deviceErr(os.Rename(d.HostPath(from), d.HostPath(to)))
}

// deviceErr rewrites host paths carried by err back to device paths, so
// messages sent to peers never reveal the storage root.
func (d *DirFS) deviceErr(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		pathErr.Path = d.devicePath(pathErr.Path)
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		linkErr.Old = d.devicePath(linkErr.Old)
		linkErr.New = d.devicePath(linkErr.New)
	}
	return err
}

// devicePath maps a host path under the root to its device path. Paths
// outside the root are returned unchanged.
func (d *DirFS) devicePath(host string) string {
	rel, err := filepath.Rel(d.root, host)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return host
	}
	return vpath.Clean(filepath.ToSlash(rel))
}

// RemoveAll deletes name and everything under it. A missing path is not an
// error. The root itself is emptied but kept.
func (d *DirFS) RemoveAll(name string) error {
	return RemoveAll(d, name)
}

// RemoveAll deletes name recursively using only FS primitives, so it works
// for any FS implementation.
func RemoveAll(fsys FS, name string) error {
	name = vpath.Clean(name)
	info, err := fsys.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !info.IsDir() {
		return fsys.Remove(name)
	}

	entries, err := fsys.ReadDir(name)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		child := vpath.Join(name, entry.Name())
		if entry.IsDir() {
			if err := RemoveAll(fsys, child); err != nil {
				return err
			}
			continue
		}
		if err := fsys.Remove(child); err != nil {
			return err
		}
	}
	if name == vpath.Root {
		return nil
	}
	return fsys.Rmdir(name)
}

// IsDir reports whether name exists and is a directory.
func IsDir(fsys FS, name string) bool {
	info, err := fsys.Stat(name)
	return err == nil && info.IsDir()
}
