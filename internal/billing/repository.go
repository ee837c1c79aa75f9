package billing

import (
	"context"

	"github.com/schoolledger/schoolledger/internal/store"
)

// Repository persists students and settings as whole collections in a store.KV.
type Repository struct {
	kv store.KV
}

// NewRepository constructs a repository.
func NewRepository(kv store.KV) *Repository {
	return &Repository{kv: kv}
}

// LoadStudents returns every active student. A missing collection is empty.
func (r *Repository) LoadStudents(ctx context.Context) ([]Student, error) {
	students := []Student{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyStudents, &students); err != nil {
		return nil, err
	}
	for i := range students {
		if students[i].FeePayments == nil {
			students[i].FeePayments = []FeePayment{}
		}
		if students[i].TransportPayments == nil {
			students[i].TransportPayments = []TransportPayment{}
		}
	}
	return students, nil
}

// SaveStudents overwrites the student collection.
func (r *Repository) SaveStudents(ctx context.Context, students []Student) error {
	if students == nil {
		students = []Student{}
	}
	return store.SaveJSON(ctx, r.kv, store.KeyStudents, students)
}

// LoadSettings returns stored settings, or DefaultSettings when none were saved.
func (r *Repository) LoadSettings(ctx context.Context) (AppSettings, error) {
	settings := DefaultSettings()
	if _, err := store.LoadJSON(ctx, r.kv, store.KeySettings, &settings); err != nil {
		return AppSettings{}, err
	}
	return settings, nil
}

// SaveSettings overwrites the settings document.
func (r *Repository) SaveSettings(ctx context.Context, settings AppSettings) error {
	return store.SaveJSON(ctx, r.kv, store.KeySettings, settings)
}
