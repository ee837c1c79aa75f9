package shared

import (
	"context"
	"errors"
	"time"

	"github.com/schoolledger/schoolledger/internal/store"
)

// IdempotencyStore remembers request keys already processed, so a retried
// payment is not recorded twice.
type IdempotencyStore struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

// NewIdempotencyStore constructs the store. Keys older than ttl are forgotten.
func NewIdempotencyStore(kv store.KV, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{kv: kv, ttl: ttl, now: time.Now}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

type idempotencyEntry struct {
	Module string    `json:"module"`
	At     time.Time `json:"at"`
}

// CheckAndInsert ensures key uniqueness per module.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	unlock := LockCollection(store.KeyIdempotency)
	defer unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return err
	}
	id := module + "|" + key
	if _, seen := entries[id]; seen {
		return ErrIdempotencyConflict
	}
	entries[id] = idempotencyEntry{Module: module, At: s.now().UTC()}
	return store.SaveJSON(ctx, s.kv, store.KeyIdempotency, entries)
}

// Delete removes a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, module string) error {
	if s == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	unlock := LockCollection(store.KeyIdempotency)
	defer unlock()

	entries, err := s.load(ctx)
	if err != nil {
		return err
	}
	delete(entries, module+"|"+key)
	return store.SaveJSON(ctx, s.kv, store.KeyIdempotency, entries)
}

// load returns the live entries, dropping expired ones.
func (s *IdempotencyStore) load(ctx context.Context) (map[string]idempotencyEntry, error) {
	entries := map[string]idempotencyEntry{}
	if _, err := store.LoadJSON(ctx, s.kv, store.KeyIdempotency, &entries); err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-s.ttl)
	for id, e := range entries {
		if e.At.Before(cutoff) {
			delete(entries, id)
		}
	}
	return entries, nil
}
