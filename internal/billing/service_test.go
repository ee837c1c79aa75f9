package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/schoolledger/schoolledger/internal/calendar"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
)

type memoryBillingRepo struct {
	students []Student
	settings *AppSettings
	saveErr  error
	saves    int
}

func (r *memoryBillingRepo) LoadStudents(ctx context.Context) ([]Student, error) {
	out := make([]Student, len(r.students))
	for i, st := range r.students {
		out[i] = st.Clone()
	}
	return out, nil
}

func (r *memoryBillingRepo) SaveStudents(ctx context.Context, students []Student) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.students = students
	return nil
}

func (r *memoryBillingRepo) LoadSettings(ctx context.Context) (AppSettings, error) {
	if r.settings == nil {
		return DefaultSettings(), nil
	}
	return *r.settings, nil
}

func (r *memoryBillingRepo) SaveSettings(ctx context.Context, settings AppSettings) error {
	r.settings = &settings
	return nil
}

type recordingAudit struct {
	entries []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

type countingCache struct{ bumps int }

func (c *countingCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

type paymentCounter map[string]float64

func (p paymentCounter) ObservePayment(kind string, amount float64) { p[kind] += amount }

type serviceFixture struct {
	svc     *Service
	repo    *memoryBillingRepo
	audit   *recordingAudit
	cache   *countingCache
	metrics paymentCounter
	now     time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	settings := testSettings()
	f := &serviceFixture{
		repo:    &memoryBillingRepo{settings: &settings},
		audit:   &recordingAudit{},
		cache:   &countingCache{},
		metrics: paymentCounter{},
		now:     time.Date(2024, time.March, 15, 10, 30, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.repo, f.audit, logger).
		WithNow(func() time.Time { return f.now }).
		WithCache(f.cache).
		WithMetrics(f.metrics)
	return f
}

func studentInput() StudentInput {
	return StudentInput{
		FullName:      "Tariro Moyo",
		AdmissionDate: calendar.Date(2024, time.January, 1),
		ClassGroup:    "Primary",
		ClassName:     "Grade 3",
	}
}

func TestCreateStudentBuildsScheduleAndTransport(t *testing.T) {
	f := newServiceFixture(t)
	ctx := shared.ContextWithActor(context.Background(), "bursar")

	in := studentInput()
	in.HasTransport = true
	in.TransportFee = 20
	activation := calendar.Date(2024, time.March, 1)
	in.TransportActivationDate = &activation

	st, err := f.svc.CreateStudent(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, st.ID)
	require.Equal(t, "primary", st.ClassGroup)
	require.Equal(t, 2024, st.AcademicYear)
	require.Len(t, st.FeePayments, 12)
	require.Equal(t, 70.0, st.FeePayments[2].AmountDue)
	require.Len(t, st.TransportPayments, 7)
	require.Equal(t, 210.0, st.TotalOwed)

	require.Len(t, f.repo.students, 1)
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "student.create", f.audit.entries[0].Action)
	require.Equal(t, "bursar", f.audit.entries[0].Actor)
	require.Equal(t, 1, f.cache.bumps)
}

func TestCreateStudentValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	in := studentInput()
	in.FullName = " "
	_, err := f.svc.CreateStudent(ctx, in)
	require.ErrorIs(t, err, ErrInvalidStudent)

	in = studentInput()
	in.ClassGroup = "Nowhere"
	in.ClassName = "Grade 99"
	_, err = f.svc.CreateStudent(ctx, in)
	require.ErrorIs(t, err, ErrInvalidStudent)

	in = studentInput()
	in.HasTransport = true
	_, err = f.svc.CreateStudent(ctx, in)
	require.ErrorIs(t, err, ErrInvalidAmount)

	// The class name alone resolves the group.
	in = studentInput()
	in.ClassGroup = ""
	st, err := f.svc.CreateStudent(ctx, in)
	require.NoError(t, err)
	require.Equal(t, "primary", st.ClassGroup)
	require.Equal(t, 1, f.repo.saves)
}

func TestServicePaymentFlow(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	st, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)

	st, err = f.svc.RecordPayment(ctx, st.ID, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 50.0, st.TotalPaid)
	require.Equal(t, 100.0, st.TotalOwed)
	require.Equal(t, 50.0, f.metrics["tuition"])

	_, err = f.svc.RecordPayment(ctx, st.ID, 1, -3)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.RecordPayment(ctx, "missing", 1, 3)
	require.ErrorIs(t, err, ErrStudentNotFound)

	st, err = f.svc.SetPeriodSkipped(ctx, st.ID, 2, true)
	require.NoError(t, err)
	require.True(t, st.FeePayments[1].IsSkipped)

	totals, err := f.svc.Totals(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, totals.ExpectedToDate)

	outstanding, err := f.svc.Outstanding(ctx, st.ID)
	require.NoError(t, err)
	require.Equal(t, 50.0, outstanding.Total)

	report, err := f.svc.Validate(ctx, st.ID)
	require.NoError(t, err)
	require.True(t, report.Valid)

	actions := make([]string, 0, len(f.audit.entries))
	for _, e := range f.audit.entries {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{"student.create", "payment.record", "payment.skip"}, actions)
}

func TestServiceTransportLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	st, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)

	st, err = f.svc.ActivateTransport(ctx, st.ID, 20, calendar.Date(2024, time.March, 1))
	require.NoError(t, err)
	require.Equal(t, 70.0, st.FeePayments[2].AmountDue, "service rebuilds the schedule after activation")

	st, err = f.svc.RecordTransportPayment(ctx, st.ID, 3, 20)
	require.NoError(t, err)
	require.True(t, st.TransportPayments[0].Paid)
	require.Equal(t, 20.0, f.metrics["transport"])

	st, err = f.svc.SetTransportMonthWaived(ctx, st.ID, 5, true)
	require.NoError(t, err)
	st, err = f.svc.SetTransportMonthSkipped(ctx, st.ID, 6, true)
	require.NoError(t, err)
	st, err = f.svc.SetTransportWaiver(ctx, st.ID, 4, true)
	require.NoError(t, err)
	require.Equal(t, 50.0, st.FeePayments[3].AmountDue)

	st, err = f.svc.DeactivateTransport(ctx, st.ID)
	require.NoError(t, err)
	require.Empty(t, st.TransportPayments)
	for _, p := range st.FeePayments {
		require.Equal(t, 50.0, p.AmountDue)
	}
}

func TestUpdateStudentReschedulesOnFeeInputs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	st, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)
	st, err = f.svc.RecordPayment(ctx, st.ID, 1, 50)
	require.NoError(t, err)

	in := studentInput()
	in.FullName = "Tariro M. Moyo"
	in.HasCustomFees = true
	in.CustomSchoolFee = 45
	in.HasTransport = true
	in.TransportFee = 10
	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.Equal(t, "Tariro M. Moyo", st.FullName)
	require.Equal(t, 55.0, st.FeePayments[0].AmountDue)
	require.Equal(t, 50.0, st.FeePayments[0].AmountPaid)
	require.Len(t, st.TransportPayments, 9)

	in.TransportFee = 15
	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.Equal(t, 60.0, st.FeePayments[5].AmountDue)
	require.Equal(t, 15.0, st.TransportPayments[4].AmountDue)

	in.HasTransport = false
	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.False(t, st.HasTransport)
	require.Empty(t, st.TransportPayments)
	require.Equal(t, 45.0, st.FeePayments[5].AmountDue)
	require.True(t, st.FeePayments[5].IsTransportWaived)
}

func TestUpdateStudentMovesTransportActivation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	in := studentInput()
	in.HasTransport = true
	in.TransportFee = 20
	march := calendar.Date(2024, time.March, 1)
	in.TransportActivationDate = &march
	st, err := f.svc.CreateStudent(ctx, in)
	require.NoError(t, err)
	require.Len(t, st.TransportPayments, 7)
	st, err = f.svc.RecordTransportPayment(ctx, st.ID, 3, 20)
	require.NoError(t, err)

	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.Len(t, st.TransportPayments, 7)
	require.Equal(t, 20.0, st.TransportPayments[0].AmountPaid, "same activation keeps transport history")

	june := calendar.Date(2024, time.June, 1)
	in.TransportActivationDate = &june
	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.Equal(t, june, *st.TransportActivationDate)
	require.Len(t, st.TransportPayments, 5)
	require.Equal(t, 6, st.TransportPayments[0].Month)
	require.Zero(t, st.TransportPayments[0].AmountPaid)

	beforeAdmission := calendar.Date(2023, time.December, 1)
	in.TransportActivationDate = &beforeAdmission
	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.Equal(t, calendar.Date(2024, time.January, 1), *st.TransportActivationDate)
	require.Len(t, st.TransportPayments, 9)
	st, err = f.svc.RecordTransportPayment(ctx, st.ID, 1, 20)
	require.NoError(t, err)

	st, err = f.svc.UpdateStudent(ctx, st.ID, in)
	require.NoError(t, err)
	require.Equal(t, 20.0, st.TransportPayments[0].AmountPaid, "clamped activation is not a move")
}

func TestUpdateSettingsCycleRules(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	st, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)

	next := testSettings()
	next.BillingCycle = calendar.CycleTermly
	saved, err := f.svc.UpdateSettings(ctx, next)
	require.NoError(t, err)
	require.Equal(t, calendar.CycleTermly, saved.BillingCycle)
	got, err := f.svc.GetStudent(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, got.FeePayments, 3)

	_, err = f.svc.RecordPayment(ctx, st.ID, 1, 10)
	require.NoError(t, err)
	next.BillingCycle = calendar.CycleMonthly
	_, err = f.svc.UpdateSettings(ctx, next)
	require.ErrorIs(t, err, ErrCycleChangeWithPayments)

	next.BillingCycle = "WEEKLY"
	_, err = f.svc.UpdateSettings(ctx, next)
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestUpdateSettingsFeeChangeRebuildsAffectedStudents(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	primary, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)
	in := studentInput()
	in.FullName = "Rudo Ncube"
	in.ClassGroup = "ecd"
	in.ClassName = "ECD A"
	ecd, err := f.svc.CreateStudent(ctx, in)
	require.NoError(t, err)

	next := testSettings()
	next.ClassGroups[0].StandardFee = 60
	next.ClassGroups = append(next.ClassGroups, ClassGroup{Name: "Secondary", StandardFee: 80})
	saved, err := f.svc.UpdateSettings(ctx, next)
	require.NoError(t, err)
	require.NotEmpty(t, saved.ClassGroups[2].ID)

	got, err := f.svc.GetStudent(ctx, primary.ID)
	require.NoError(t, err)
	require.Equal(t, 60.0, got.FeePayments[0].AmountDue)
	got, err = f.svc.GetStudent(ctx, ecd.ID)
	require.NoError(t, err)
	require.Equal(t, 40.0, got.FeePayments[0].AmountDue)
}

func TestRefreshAllTotalsFollowsTheClock(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)

	changed, err := f.svc.RefreshAllTotals(ctx)
	require.NoError(t, err)
	require.Zero(t, changed)

	f.now = f.now.AddDate(0, 1, 0)
	changed, err = f.svc.RefreshAllTotals(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, changed)
	require.Equal(t, 200.0, f.repo.students[0].TotalOwed)
}

func TestServiceSurfacesRepositoryErrors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	st, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)

	f.repo.saveErr = errors.New("disk full")
	_, err = f.svc.RecordPayment(ctx, st.ID, 1, 50)
	require.ErrorContains(t, err, "disk full")
	require.Zero(t, f.repo.students[0].FeePayments[0].AmountPaid)
}

func TestDeleteStudentAndListFilters(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateStudent(ctx, studentInput())
	require.NoError(t, err)
	in := studentInput()
	in.FullName = "Anesu Dube"
	in.ClassName = "Grade 5"
	_, err = f.svc.CreateStudent(ctx, in)
	require.NoError(t, err)

	all, err := f.svc.ListStudents(ctx, StudentFilter{})
	require.NoError(t, err)
	require.Equal(t, "Anesu Dube", all[0].FullName)

	grade3, err := f.svc.ListStudents(ctx, StudentFilter{ClassName: "grade 3"})
	require.NoError(t, err)
	require.Len(t, grade3, 1)

	byName, err := f.svc.ListStudents(ctx, StudentFilter{Query: "dube"})
	require.NoError(t, err)
	require.Len(t, byName, 1)

	require.NoError(t, f.svc.DeleteStudent(ctx, a.ID))
	require.ErrorIs(t, f.svc.DeleteStudent(ctx, a.ID), ErrStudentNotFound)
	_, err = f.svc.GetStudent(ctx, a.ID)
	require.ErrorIs(t, err, ErrStudentNotFound)
}

func TestKVRepositoryDefaults(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	repo := NewRepository(kv)

	students, err := repo.LoadStudents(ctx)
	require.NoError(t, err)
	require.Empty(t, students)
	require.NotNil(t, students)

	settings, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), settings)

	require.NoError(t, kv.Put(ctx, store.KeyStudents, []byte(`[{"id":"s1","feePayments":null}]`)))
	students, err = repo.LoadStudents(ctx)
	require.NoError(t, err)
	require.NotNil(t, students[0].FeePayments)
	require.NotNil(t, students[0].TransportPayments)

	settings.BillingCycle = calendar.CycleTermly
	settings.AutoPromotionDate = MonthDay{Month: time.December, Day: 1}
	require.NoError(t, repo.SaveSettings(ctx, settings))
	loaded, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, settings, loaded)
}
