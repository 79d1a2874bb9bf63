package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/opd-ai/devicefs/digest"
)

// ErrHashWidth is returned when a manifest hash does not have the width of the
// manifest's algorithm.
var ErrHashWidth = errors.New("hash width does not match algorithm")

// Entry is one expected file.
type Entry struct {
	Path string `toml:"path"`
	Size int64  `toml:"size"`
	Hash string `toml:"hash"`
}

// Manifest is the host's description of the files it intends to upload.
type Manifest struct {
	Synchronize bool             `toml:"synchronize"`
	Exclude     []string         `toml:"exclude"`
	Algorithm   digest.Algorithm `toml:"algorithm"`
	Entries     []Entry          `toml:"file"`
}

// LoadManifest reads a TOML manifest file.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return &m, nil
}

// ParseManifest decodes a TOML manifest from text.
func ParseManifest(text string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(text, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// normalize defaults the algorithm to crc32 and checks every hash has the
// algorithm's width. Unknown algorithms are kept, unchecked, so the engine can
// treat hashing as unavailable.
func (m *Manifest) normalize() error {
	name := strings.ToLower(strings.TrimSpace(string(m.Algorithm)))
	if name == "" {
		name = string(digest.CRC32)
	}
	m.Algorithm = digest.Algorithm(name)

	width := m.Algorithm.HexLen()
	if width == 0 {
		return nil
	}
	for _, e := range m.Entries {
		if got := len(strings.TrimSpace(e.Hash)); got != width {
			return fmt.Errorf("%w: %s has %d characters, %s needs %d", ErrHashWidth, e.Path, got, m.Algorithm, width)
		}
	}
	return nil
}
