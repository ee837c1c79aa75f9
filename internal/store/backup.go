package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	snapshotVersion = 1
	saltSize        = 16
	nonceSize       = 24
	keySize         = 32
)

var backupMagic = []byte("SLB1")

var (
	// ErrBadPassphrase is returned when a backup cannot be decrypted.
	ErrBadPassphrase = errors.New("store: backup passphrase does not match")
	// ErrBadBackup is returned for truncated or foreign files.
	ErrBadBackup = errors.New("store: not a schoolledger backup")
	// ErrEmptyPassphrase rejects sealing without a secret.
	ErrEmptyPassphrase = errors.New("store: backup passphrase required")
)

// Snapshot is the exported content of every known collection.
type Snapshot struct {
	Version     int                        `json:"version"`
	CreatedAt   time.Time                  `json:"createdAt"`
	Collections map[string]json.RawMessage `json:"collections"`
}

// Batcher is implemented by backends that can overwrite many keys atomically.
type Batcher interface {
	PutAll(ctx context.Context, docs map[string][]byte) error
}

// Export reads every collection into a snapshot. Missing collections are omitted.
func Export(ctx context.Context, kv KV, now time.Time) (Snapshot, error) {
	snap := Snapshot{Version: snapshotVersion, CreatedAt: now.UTC(), Collections: map[string]json.RawMessage{}}
	for _, key := range Collections {
		raw, err := kv.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("store: export %s: %w", key, err)
		}
		if !json.Valid(raw) {
			return Snapshot{}, fmt.Errorf("store: export %s: stored value is not JSON", key)
		}
		snap.Collections[key] = json.RawMessage(raw)
	}
	return snap, nil
}

// Import overwrites the collections present in snap. Unknown keys are ignored.
func Import(ctx context.Context, kv KV, snap Snapshot) error {
	if snap.Version != snapshotVersion {
		return fmt.Errorf("store: unsupported backup version %d", snap.Version)
	}
	docs := make(map[string][]byte, len(snap.Collections))
	for _, key := range Collections {
		if raw, ok := snap.Collections[key]; ok {
			docs[key] = []byte(raw)
		}
	}
	if b, ok := kv.(Batcher); ok {
		return b.PutAll(ctx, docs)
	}
	for k, v := range docs {
		if err := kv.Put(ctx, k, v); err != nil {
			return fmt.Errorf("store: import %s: %w", k, err)
		}
	}
	return nil
}

// SealSnapshot encrypts snap with a key derived from passphrase.
// Layout: magic | salt | nonce | secretbox ciphertext.
func SealSnapshot(snap Snapshot, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	plain, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("store: encode snapshot: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("store: salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("store: nonce: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(backupMagic)+saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, backupMagic...)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, key), nil
}

// OpenSnapshot decrypts a file produced by SealSnapshot.
func OpenSnapshot(data []byte, passphrase string) (Snapshot, error) {
	if passphrase == "" {
		return Snapshot{}, ErrEmptyPassphrase
	}
	header := len(backupMagic) + saltSize + nonceSize
	if len(data) < header+secretbox.Overhead || !bytes.HasPrefix(data, backupMagic) {
		return Snapshot{}, ErrBadBackup
	}
	salt := data[len(backupMagic) : len(backupMagic)+saltSize]
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(backupMagic)+saltSize:header])

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return Snapshot{}, err
	}
	plain, ok := secretbox.Open(nil, data[header:], &nonce, key)
	if !ok {
		return Snapshot{}, ErrBadPassphrase
	}
	var snap Snapshot
	if err := json.Unmarshal(plain, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return snap, nil
}

func deriveKey(passphrase string, salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}
