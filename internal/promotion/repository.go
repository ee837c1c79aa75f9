package promotion

import (
	"context"
	"time"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/store"
)

// RunRecord is the stored summary of one promotion pass.
type RunRecord struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	Year        int       `json:"year"`
	At          time.Time `json:"at"`
	Actor       string    `json:"actor"`
	Promoted    int       `json:"promoted"`
	Transferred int       `json:"transferred"`
	Pending     int       `json:"pending"`
	Blocked     int       `json:"blocked"`
	Errors      int       `json:"errors"`
}

// Repository stores the promotion collections in a store.KV.
type Repository struct {
	kv store.KV
}

// NewRepository constructs a repository.
func NewRepository(kv store.KV) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) LoadTransferred(ctx context.Context) ([]TransferredStudent, error) {
	out := []TransferredStudent{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyTransferred, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) SaveTransferred(ctx context.Context, students []TransferredStudent) error {
	if students == nil {
		students = []TransferredStudent{}
	}
	return store.SaveJSON(ctx, r.kv, store.KeyTransferred, students)
}

func (r *Repository) LoadPending(ctx context.Context) ([]PendingPromotedStudent, error) {
	out := []PendingPromotedStudent{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyPending, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) SavePending(ctx context.Context, students []PendingPromotedStudent) error {
	if students == nil {
		students = []PendingPromotedStudent{}
	}
	return store.SaveJSON(ctx, r.kv, store.KeyPending, students)
}

func (r *Repository) LoadRules(ctx context.Context) ([]Rule, error) {
	out := []Rule{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyPromotionRules, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) SaveRules(ctx context.Context, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	return store.SaveJSON(ctx, r.kv, store.KeyPromotionRules, rules)
}

func (r *Repository) LoadRuns(ctx context.Context) ([]RunRecord, error) {
	out := []RunRecord{}
	if _, err := store.LoadJSON(ctx, r.kv, store.KeyPromotionRuns, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunCommit is everything one promotion pass writes.
type RunCommit struct {
	Students    []billing.Student
	Transferred []TransferredStudent
	Pending     []PendingPromotedStudent
	Runs        []RunRecord
}

// CommitRun writes the roster, the transferred and pending lists and the run
// history together. A failed write leaves all four collections as they were
// on backends with batch support.
func (r *Repository) CommitRun(ctx context.Context, c RunCommit) error {
	if c.Students == nil {
		c.Students = []billing.Student{}
	}
	if c.Transferred == nil {
		c.Transferred = []TransferredStudent{}
	}
	if c.Pending == nil {
		c.Pending = []PendingPromotedStudent{}
	}
	if c.Runs == nil {
		c.Runs = []RunRecord{}
	}
	return store.SaveBatchJSON(ctx, r.kv,
		store.Doc{Key: store.KeyStudents, Value: c.Students},
		store.Doc{Key: store.KeyTransferred, Value: c.Transferred},
		store.Doc{Key: store.KeyPending, Value: c.Pending},
		store.Doc{Key: store.KeyPromotionRuns, Value: c.Runs},
	)
}
