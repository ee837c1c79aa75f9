package promotion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

type promotionFixture struct {
	svc      *Service
	students *billing.Repository
	repo     *Repository
	audit    *shared.AuditLogger
	now      time.Time
}

func newPromotionFixture(t *testing.T, students ...billing.Student) *promotionFixture {
	t.Helper()
	ctx := context.Background()
	kv := store.NewMemoryKV()
	f := &promotionFixture{
		students: billing.NewRepository(kv),
		repo:     NewRepository(kv),
		audit:    shared.NewAuditLogger(kv, 0),
		now:      time.Date(2025, time.January, 1, 0, 5, 0, 0, time.UTC),
	}
	settings := testSettings()
	settings.AutoPromotionEnabled = true
	require.NoError(t, f.students.SaveSettings(ctx, settings))
	require.NoError(t, f.students.SaveStudents(ctx, students))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.students, f.audit, logger).WithNow(func() time.Time { return f.now })
	return f
}

func defaultRoster() []billing.Student {
	return []billing.Student{
		enrolled("s3", "Tariro Moyo", "Grade 3", "primary"),
		enrolled("s7", "Rudo Chikwanha", "Grade 7", "primary"),
		enrolled("e1", "Nyasha Dube", "ECD B", "ecd"),
	}
}

func TestAutomaticRunOncePerYear(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	ctx := shared.ContextWithActor(context.Background(), "scheduler")

	out, err := f.svc.RunAutomatic(ctx)
	require.NoError(t, err)
	require.True(t, out.Ran)
	require.Equal(t, "promoted 1, transferred 1, pending 1, blocked 0, errors 0", out.Message)

	students, err := f.students.LoadStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.Equal(t, "Grade 4", students[0].ClassName)

	transferred, err := f.svc.ListTransferred(ctx)
	require.NoError(t, err)
	require.Len(t, transferred, 1)
	require.Equal(t, "s7", transferred[0].ID)
	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	runs, err := f.svc.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, TriggerAutomatic, runs[0].Trigger)
	require.Equal(t, "scheduler", runs[0].Actor)
	require.Equal(t, 2025, runs[0].Year)

	f.now = f.now.Add(2 * time.Hour)
	out, err = f.svc.RunAutomatic(ctx)
	require.NoError(t, err)
	require.False(t, out.Ran)
	require.Contains(t, out.Message, "already ran for 2025")

	entries, err := f.audit.List(ctx, "run", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "promotion.run", entries[0].Action)
}

func TestAutomaticRunOncePerLocalDate(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	nairobi := time.FixedZone("EAT", 3*60*60)
	f.now = time.Date(2025, time.January, 1, 0, 5, 0, 0, nairobi)
	ctx := context.Background()

	out, err := f.svc.RunAutomatic(ctx)
	require.NoError(t, err)
	require.True(t, out.Ran)

	runs, err := f.svc.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, 2025, runs[0].Year)
	require.Equal(t, 2024, runs[0].At.Year())

	f.now = f.now.Add(30 * time.Minute)
	out, err = f.svc.RunAutomatic(ctx)
	require.NoError(t, err)
	require.False(t, out.Ran)

	students, err := f.students.LoadStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.Equal(t, "Grade 4", students[0].ClassName)
}

// flakyKV fails the first batch write, then behaves.
type flakyKV struct {
	*store.MemoryKV
	failures int
}

func (k *flakyKV) PutAll(ctx context.Context, docs map[string][]byte) error {
	if _, ok := docs[store.KeyStudents]; ok && k.failures > 0 {
		k.failures--
		return errors.New("connection reset")
	}
	return k.MemoryKV.PutAll(ctx, docs)
}

func TestFailedRunLeavesCollectionsUntouched(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{MemoryKV: store.NewMemoryKV(), failures: 1}
	students := billing.NewRepository(kv)
	repo := NewRepository(kv)
	settings := testSettings()
	settings.AutoPromotionEnabled = true
	require.NoError(t, students.SaveSettings(ctx, settings))
	require.NoError(t, students.SaveStudents(ctx, defaultRoster()))

	now := time.Date(2025, time.January, 1, 0, 5, 0, 0, time.UTC)
	svc := NewService(repo, students, shared.NewAuditLogger(kv, 0), slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithNow(func() time.Time { return now })

	_, err := svc.RunAutomatic(ctx)
	require.ErrorContains(t, err, "connection reset")

	roster, err := students.LoadStudents(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	transferred, err := repo.LoadTransferred(ctx)
	require.NoError(t, err)
	require.Empty(t, transferred)
	runs, err := repo.LoadRuns(ctx)
	require.NoError(t, err)
	require.Empty(t, runs)

	out, err := svc.RunAutomatic(ctx)
	require.NoError(t, err)
	require.True(t, out.Ran)

	transferred, err = repo.LoadTransferred(ctx)
	require.NoError(t, err)
	require.Len(t, transferred, 1)
	pending, err := repo.LoadPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	roster, err = students.LoadStudents(ctx)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "Grade 4", roster[0].ClassName)
}

func TestMergeTransferredReplacesSameStudent(t *testing.T) {
	old := []TransferredStudent{{Student: billing.Student{ID: "a"}, TransferReason: "first"}, {Student: billing.Student{ID: "b"}}}
	merged := mergeTransferred(old, []TransferredStudent{{Student: billing.Student{ID: "a"}, TransferReason: "second"}})
	require.Len(t, merged, 2)
	require.Equal(t, "b", merged[0].ID)
	require.Equal(t, "second", merged[1].TransferReason)
	require.Equal(t, "first", old[0].TransferReason)
}

func TestAutomaticRunOnOtherDayIsNoop(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	f.now = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

	out, err := f.svc.RunAutomatic(context.Background())
	require.NoError(t, err)
	require.False(t, out.Ran)
	require.Nil(t, out.Result)
	require.Contains(t, out.Message, "runs on 01-01")

	students, err := f.students.LoadStudents(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 3)
}

func TestPreviewDoesNotSave(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	res, err := f.svc.Preview(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, res.Promoted, 1)

	students, err := f.students.LoadStudents(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 3)
	runs, err := f.svc.Runs(context.Background())
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRestoreFlows(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	ctx := context.Background()
	_, err := f.svc.Run(ctx, RunOptions{})
	require.NoError(t, err)

	placed, err := f.svc.RestorePending(ctx, "e1", "Grade 1 Blue")
	require.NoError(t, err)
	require.Equal(t, "Grade 1 Blue", placed.ClassName)
	pending, err := f.svc.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	back, err := f.svc.RestoreTransferred(ctx, "s7")
	require.NoError(t, err)
	require.Equal(t, "Grade 7", back.ClassName)
	require.Equal(t, 2025, back.AcademicYear)

	students, err := f.students.LoadStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 3)

	_, err = f.svc.RestorePending(ctx, "e1", "")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.RestoreTransferred(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransferStudent(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	ctx := context.Background()

	tr, err := f.svc.TransferStudent(ctx, "s3", "Relocated", true)
	require.NoError(t, err)
	require.Equal(t, "Relocated", tr.TransferReason)
	require.Len(t, tr.FeePayments, 12)

	students, err := f.students.LoadStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 2)

	_, err = f.svc.TransferStudent(ctx, "s3", "again", false)
	require.ErrorIs(t, err, billing.ErrStudentNotFound)
}

func TestSaveRulesValidates(t *testing.T) {
	f := newPromotionFixture(t)
	ctx := context.Background()
	negative := -1.0

	_, err := f.svc.SaveRules(ctx, []Rule{{Name: " "}})
	require.ErrorIs(t, err, ErrInvalidRule)
	_, err = f.svc.SaveRules(ctx, []Rule{{Name: "Fees", Conditions: Conditions{MaxOutstandingAmount: &negative}}})
	require.ErrorIs(t, err, ErrInvalidRule)

	saved, err := f.svc.SaveRules(ctx, []Rule{{Name: "Fees", Enabled: true}})
	require.NoError(t, err)
	require.NotEmpty(t, saved[0].ID)

	rules, err := f.svc.Rules(ctx)
	require.NoError(t, err)
	require.Equal(t, saved, rules)
}

func TestPromotionHandler(t *testing.T) {
	f := newPromotionFixture(t, defaultRoster()...)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc).MountRoutes(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodGet, "/promotion/schedule", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"date":"01-01"`)

	rr = do(http.MethodPost, "/promotion/run", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"to":"Grade 4"`)

	rr = do(http.MethodPost, "/promotion/pending/missing/restore", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(http.MethodPost, "/promotion/students/s3/transfer", `{"reason": ""}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(http.MethodPut, "/promotion/rules", `[{"name": ""}]`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
