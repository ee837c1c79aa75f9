package shared

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schoolledger/schoolledger/internal/store"
)

// DefaultAuditRetention bounds the stored audit collection.
const DefaultAuditRetention = 2000

// AuditLog represents one recorded change.
type AuditLog struct {
	ID       string         `json:"id"`
	Actor    string         `json:"actor,omitempty"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditLogger appends records to the audit collection, newest last.
type AuditLogger struct {
	kv        store.KV
	retention int
	now       func() time.Time
	mu        sync.Mutex
}

// NewAuditLogger returns a new AuditLogger. retention <= 0 uses DefaultAuditRetention.
func NewAuditLogger(kv store.KV, retention int) *AuditLogger {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &AuditLogger{kv: kv, retention: retention, now: time.Now}
}

// Record persists the log entry, dropping the oldest entries past retention.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.kv == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.At.IsZero() {
		log.At = l.now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var entries []AuditLog
	if _, err := store.LoadJSON(ctx, l.kv, store.KeyAudit, &entries); err != nil {
		return err
	}
	entries = append(entries, log)
	if over := len(entries) - l.retention; over > 0 {
		entries = entries[over:]
	}
	return store.SaveJSON(ctx, l.kv, store.KeyAudit, entries)
}

// List returns up to limit entries, newest first. Optional entityID filters.
func (l *AuditLogger) List(ctx context.Context, entityID string, limit int) ([]AuditLog, error) {
	var entries []AuditLog
	if _, err := store.LoadJSON(ctx, l.kv, store.KeyAudit, &entries); err != nil {
		return nil, err
	}
	out := make([]AuditLog, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if entityID != "" && entries[i].EntityID != entityID {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
