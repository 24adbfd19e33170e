// Package digest provides the incremental content digests recorded on
// finalized files.
package digest

import (
	"crypto/md5" //nolint:gosec // stored for compatibility, not for security
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"
)

// Algorithm names a digest. The zero value is MD5.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
	None   Algorithm = "none"
)

// All lists the algorithms that produce a digest, in lookup order.
var All = []Algorithm{MD5, SHA256, BLAKE3}

// Parse normalizes a configured algorithm name.
func Parse(name string) (Algorithm, error) {
	switch alg := Algorithm(strings.ToLower(strings.TrimSpace(name))); alg {
	case "":
		return MD5, nil
	case MD5, SHA256, BLAKE3, None:
		return alg, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q", name)
	}
}

// Field is the file-record key the hex digest is stored under. It is empty
// for None.
func (a Algorithm) Field() string {
	if a == None {
		return ""
	}
	if a == "" {
		return string(MD5)
	}
	return string(a)
}

// Digest accumulates bytes and renders the final hex string.
type Digest interface {
	Write(p []byte)
	Sum() string
	Algorithm() Algorithm
}

// New returns an empty digest for alg. None yields a digest that ignores
// input and sums to the empty string.
func New(alg Algorithm) (Digest, error) {
	switch alg {
	case MD5, "":
		return &hashDigest{h: md5.New(), alg: MD5}, nil //nolint:gosec
	case SHA256:
		return &hashDigest{h: sha256.New(), alg: SHA256}, nil
	case BLAKE3:
		return &hashDigest{h: blake3.New(), alg: BLAKE3}, nil
	case None:
		return noDigest{}, nil
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", alg)
	}
}

// Sum hashes data in one call.
func Sum(alg Algorithm, data []byte) (string, error) {
	d, err := New(alg)
	if err != nil {
		return "", err
	}
	d.Write(data)
	return d.Sum(), nil
}

type hashDigest struct {
	h   hash.Hash
	alg Algorithm
}

// Write never fails for the hashes in this package.
func (d *hashDigest) Write(p []byte) { _, _ = d.h.Write(p) }

func (d *hashDigest) Sum() string { return hex.EncodeToString(d.h.Sum(nil)) }

func (d *hashDigest) Algorithm() Algorithm { return d.alg }

type noDigest struct{}

func (noDigest) Write([]byte) {}

func (noDigest) Sum() string { return "" }

func (noDigest) Algorithm() Algorithm { return None }
