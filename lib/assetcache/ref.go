// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package assetcache

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"

	"github.com/atelier-foundation/atelier-bridge/lib/secret"
)

// KeySize is the size of the per-installation secret and every key
// derived from it.
const KeySize = 32

// HKDF info string for the reference key derivation path. Changing it
// orphans every cached payload (they remain on disk under the old
// names until trimmed).
var hkdfInfoReference = []byte("atelier.assetcache.ref.v1")

// BLAKE3 domain tag prefixed to the URL when computing references.
// Keeps download references from ever colliding with references minted
// by a future derivation path.
var referenceDomainDownload = []byte("atelier.assetcache.url.v1")

// Reference identifies one cached payload.
type Reference [32]byte

// String returns the hex form used for index rows and payload
// filenames.
func (r Reference) String() string {
	return hex.EncodeToString(r[:])
}

// decodeHex parses the hex form produced by String. Used when mapping
// index rows back to payload paths during eviction.
func (r *Reference) decodeHex(encoded string) error {
	decoded, err := hex.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("reference is not hex: %w", err)
	}
	if len(decoded) != len(r) {
		return fmt.Errorf("reference is %d bytes, want %d", len(decoded), len(r))
	}
	copy(r[:], decoded)
	return nil
}

// deriveReferenceKey derives the BLAKE3 keying material from the
// per-installation secret via HKDF-SHA256. The installation secret is
// borrowed, not closed; the returned buffer is owned by the caller.
func deriveReferenceKey(installationSecret *secret.Buffer) (*secret.Buffer, error) {
	if installationSecret.Len() != KeySize {
		return nil, fmt.Errorf("installation secret must be %d bytes, got %d",
			KeySize, installationSecret.Len())
	}
	reader := hkdf.New(sha256.New, installationSecret.Bytes(), nil, hkdfInfoReference)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return secret.NewFromBytes(derived)
}

// referenceFor computes the cache reference for a source URL.
func referenceFor(referenceKey *secret.Buffer, sourceURL string) Reference {
	hasher, err := blake3.NewKeyed(referenceKey.Bytes())
	if err != nil {
		panic("assetcache: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(referenceDomainDownload)
	hasher.Write([]byte(sourceURL))
	var reference Reference
	copy(reference[:], hasher.Sum(nil))
	return reference
}

// LoadOrCreateSecret reads the per-installation cache secret, creating
// it with fresh random bytes on first run. The file holds raw bytes
// (not text — no whitespace trimming) with mode 0600. A file of the
// wrong length is an error, not silently regenerated — regenerating
// would orphan every cached payload.
func LoadOrCreateSecret(path string) (*secret.Buffer, error) {
	loaded, err := os.ReadFile(path)
	if err == nil {
		if len(loaded) != KeySize {
			secret.Zero(loaded)
			return nil, fmt.Errorf("cache secret %s is %d bytes, want %d", path, len(loaded), KeySize)
		}
		// NewFromBytes zeros loaded after copying it into guarded memory.
		return secret.NewFromBytes(loaded)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading cache secret: %w", err)
	}

	fresh := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, fresh); err != nil {
		return nil, fmt.Errorf("generating cache secret: %w", err)
	}
	if err := os.WriteFile(path, fresh, 0600); err != nil {
		secret.Zero(fresh)
		return nil, fmt.Errorf("writing cache secret: %w", err)
	}
	// NewFromBytes zeros fresh after copying it into guarded memory.
	return secret.NewFromBytes(fresh)
}
