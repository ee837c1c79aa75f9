package extrabilling

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/store"
)

type staticRoster []billing.Student

func (r staticRoster) LoadStudents(ctx context.Context) ([]billing.Student, error) {
	return r, nil
}

type paymentTally map[string]float64

func (p paymentTally) ObservePayment(kind string, amount float64) { p[kind] += amount }

func roster() staticRoster {
	return staticRoster{
		{ID: "s1", FullName: "Tariro Moyo", ClassName: "Grade 3"},
		{ID: "s2", FullName: "Farai Ncube", ClassName: "grade 3"},
		{ID: "s3", FullName: "Rudo Chikwanha", ClassName: "Grade 7"},
	}
}

func newTestService(t *testing.T) (*Service, paymentTally) {
	t.Helper()
	tally := paymentTally{}
	svc := NewService(NewRepository(store.NewMemoryKV()), roster(), nil, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithNow(func() time.Time { return time.Date(2024, time.May, 6, 14, 0, 0, 0, time.UTC) }).
		WithMetrics(tally)
	return svc, tally
}

func TestRecordPaymentFollowsLedgerRules(t *testing.T) {
	c := ExtraCharge{ID: "c1", Amount: 25}
	settle(&c)
	require.Equal(t, 25.0, c.OutstandingAmount)

	asOf := calendar.Date(2024, time.May, 6)
	_, err := RecordPayment(c, -1, asOf)
	require.ErrorIs(t, err, billing.ErrInvalidAmount)
	_, err = RecordPayment(c, math.NaN(), asOf)
	require.ErrorIs(t, err, billing.ErrInvalidAmount)

	paid, err := RecordPayment(c, 24.995, asOf)
	require.NoError(t, err)
	require.True(t, paid.Paid)
	require.Zero(t, paid.OutstandingAmount)
	require.Equal(t, asOf, *paid.PaidDate)

	over, err := RecordPayment(c, 40, asOf)
	require.NoError(t, err)
	require.Zero(t, over.OutstandingAmount)

	cleared, err := RecordPayment(paid, 0, asOf)
	require.NoError(t, err)
	require.False(t, cleared.Paid)
	require.Nil(t, cleared.PaidDate)
	require.Equal(t, 25.0, cleared.OutstandingAmount)
}

func TestCreateForClassAndStudent(t *testing.T) {
	svc, tally := newTestService(t)
	ctx := context.Background()

	trip, err := svc.Create(ctx, Input{ClassName: "Grade 3", Title: "Museum trip", Amount: 12})
	require.NoError(t, err)
	require.Len(t, trip, 2)
	require.NotEmpty(t, trip[0].BatchID)
	require.Equal(t, trip[0].BatchID, trip[1].BatchID)
	require.Equal(t, calendar.Date(2024, time.May, 6), trip[0].DueDate)

	uniform, err := svc.Create(ctx, Input{StudentID: "s1", Title: "Uniform", Amount: 30, DueDate: calendar.Date(2024, time.June, 1)})
	require.NoError(t, err)
	require.Len(t, uniform, 1)
	require.Empty(t, uniform[0].BatchID)

	_, err = svc.Create(ctx, Input{StudentID: "s1", ClassName: "Grade 3", Title: "x", Amount: 1})
	require.ErrorIs(t, err, ErrInvalidCharge)
	_, err = svc.Create(ctx, Input{ClassName: "Form 1", Title: "x", Amount: 1})
	require.ErrorIs(t, err, ErrNoStudents)
	_, err = svc.Create(ctx, Input{StudentID: "zz", Title: "x", Amount: 1})
	require.ErrorIs(t, err, billing.ErrStudentNotFound)

	_, err = svc.RecordPayment(ctx, trip[0].ID, 12)
	require.NoError(t, err)
	require.Equal(t, 12.0, tally["extra"])

	owed, err := svc.StudentOutstanding(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 30.0, owed)

	open, err := svc.List(ctx, Filter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 2)

	balances, err := svc.Balances(ctx)
	require.NoError(t, err)
	require.Equal(t, StudentBalance{StudentID: "s1", StudentName: "Tariro Moyo", Charged: 42, Paid: 12, Outstanding: 30, Open: 1}, balances[0])

	require.NoError(t, svc.Delete(ctx, uniform[0].ID))
	require.ErrorIs(t, svc.Delete(ctx, uniform[0].ID), ErrNotFound)
	_, err = svc.RecordPayment(ctx, "missing", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHandler(t *testing.T) {
	svc, _ := newTestService(t)
	r := chi.NewRouter()
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc).MountRoutes(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}
	rr := do(http.MethodPost, "/extra-charges", `{"className":"Grade 7","title":"Exam fee","amount":15,"dueDate":"2024-07-01"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/extra-charges", `{"title":"Exam fee","amount":15}`).Code)
	require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/extra-charges", `{"studentId":"s1","className":"Grade 7","title":"x","amount":1}`).Code)
	require.Equal(t, http.StatusNotFound, do(http.MethodPost, "/extra-charges", `{"className":"Form 2","title":"x","amount":1}`).Code)
	require.Equal(t, http.StatusNotFound, do(http.MethodPost, "/extra-charges/missing/payment", `{"amount":1}`).Code)
	require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/extra-charges/missing/payment", `{"amount":-1}`).Code)
}
