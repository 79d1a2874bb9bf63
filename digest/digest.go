// Package digest computes the fixed-width hexadecimal fingerprints used to
// decide whether a device file already matches what the host holds.
//
// Two families are offered: a 32-bit cyclic redundancy checksum (8 hex
// characters) and cryptographic digests (64 hex characters). The algorithm that
// produced a manifest hash must be the one used to hash the local file.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	// CRC32 is the IEEE CRC-32 checksum, rendered as 8 hex characters.
	CRC32 Algorithm = "crc32"
	// SHA256 is the SHA-256 digest, rendered as 64 hex characters.
	SHA256 Algorithm = "sha256"
	// BLAKE2b256 is BLAKE2b with a 256-bit output, rendered as 64 hex characters.
	BLAKE2b256 Algorithm = "blake2b-256"
)

// ErrUnsupportedAlgorithm is returned for unknown algorithm names.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{CRC32, SHA256, BLAKE2b256}
}

// Parse maps a case-insensitive name to an Algorithm.
func Parse(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Algorithms() {
		if alg == known {
			return alg, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// HexLen returns the width of the finalized fingerprint.
func (a Algorithm) HexLen() int {
	switch a {
	case CRC32:
		return crc32.Size * 2
	case SHA256:
		return sha256.Size * 2
	case BLAKE2b256:
		return blake2b.Size256 * 2
	}
	return 0
}

// Hasher maintains a single rolling accumulator.
type Hasher struct {
	alg Algorithm
	h   hash.Hash
}

// New returns a Hasher for alg.
func New(alg Algorithm) (*Hasher, error) {
	var h hash.Hash
	switch alg {
	case CRC32:
		h = crc32.NewIEEE()
	case SHA256:
		h = sha256.New()
	case BLAKE2b256:
		// Unkeyed construction never fails.
		h, _ = blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return &Hasher{alg: alg, h: h}, nil
}

// Algorithm returns the algorithm this Hasher computes.
func (d *Hasher) Algorithm() Algorithm { return d.alg }

// Reset clears the accumulator.
func (d *Hasher) Reset() { d.h.Reset() }

// Update feeds chunk into the accumulator. Callers reusing a fixed buffer must
// pass only the valid prefix of the last read.
func (d *Hasher) Update(chunk []byte) {
	// hash.Hash.Write never returns an error.
	d.h.Write(chunk)
}

// Sum returns the lowercase hexadecimal fingerprint of everything fed so far.
// It does not reset the accumulator.
func (d *Hasher) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// Consume streams r through buf into the accumulator and returns the number of
// bytes consumed.
func (d *Hasher) Consume(r io.Reader, buf []byte) (int64, error) {
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			d.Update(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// SumReader resets the accumulator, hashes all of r through buf and returns the
// fingerprint.
func (d *Hasher) SumReader(r io.Reader, buf []byte) (string, error) {
	d.Reset()
	if _, err := d.Consume(r, buf); err != nil {
		return "", err
	}
	return d.Sum(), nil
}

// Equal compares two fingerprints case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
