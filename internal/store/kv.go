// Package store persists whole JSON collections in a key-value backend.
//
// Writes are last-write-wins overwrites of a complete collection. There is no
// merge or versioning; callers load a snapshot, transform it and save it back.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Collection keys shared by the repositories.
const (
	KeyStudents       = "students"
	KeySettings       = "settings"
	KeyTransferred    = "transferred_students"
	KeyPending        = "pending_promoted_students"
	KeyPromotionRules = "promotion_rules"
	KeyPromotionRuns  = "promotion_runs"
	KeyExpenses       = "expenses"
	KeyExtraCharges   = "extra_charges"
	KeyAudit          = "audit_log"
	KeyIdempotency    = "idempotency_keys"
)

// Collections lists every key included in a backup, in export order.
var Collections = []string{
	KeySettings,
	KeyStudents,
	KeyTransferred,
	KeyPending,
	KeyPromotionRules,
	KeyPromotionRuns,
	KeyExpenses,
	KeyExtraCharges,
	KeyAudit,
}

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal document store every backend implements.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// LoadJSON decodes the value stored at key into dest. A missing key leaves
// dest untouched and reports found=false.
func LoadJSON(ctx context.Context, kv KV, key string, dest any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: load %s: %w", key, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes value and overwrites key with it.
func SaveJSON(ctx context.Context, kv KV, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	if err := kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}

// Doc is one collection written by SaveBatchJSON.
type Doc struct {
	Key   string
	Value any
}

// SaveBatchJSON encodes every doc before writing any of them. Backends that
// implement Batcher get a single atomic PutAll; others are written in order.
func SaveBatchJSON(ctx context.Context, kv KV, docs ...Doc) error {
	encoded := make(map[string][]byte, len(docs))
	for _, d := range docs {
		raw, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", d.Key, err)
		}
		encoded[d.Key] = raw
	}
	if b, ok := kv.(Batcher); ok {
		if err := b.PutAll(ctx, encoded); err != nil {
			return fmt.Errorf("store: save batch: %w", err)
		}
		return nil
	}
	for _, d := range docs {
		if err := kv.Put(ctx, d.Key, encoded[d.Key]); err != nil {
			return fmt.Errorf("store: save %s: %w", d.Key, err)
		}
	}
	return nil
}
