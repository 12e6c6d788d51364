package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tuition-api/internal/dto"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/receipt"
)

type requestFixture struct {
	store    *fakeStore
	clock    *fakeClock
	idem     *memoryIdempotencyStore
	payments *PaymentService
	svc      *PaymentRequestService
}

func newRequestFixture(t *testing.T, allocator amountAllocator) *requestFixture {
	t.Helper()
	store := newFakeStore()
	clock := newFakeClock()

	store.banks["bank-1"] = models.BankAccount{ID: "bank-1", BankName: "BCA", AccountNumber: "1234567890", AccountName: "SMA ADP", Active: true}
	store.banks["bank-off"] = models.BankAccount{ID: "bank-off", BankName: "BNI", Active: false}
	store.students["stu-1"] = models.Student{ID: "stu-1", NIS: "2025001", FullName: "Siti Aminah", Active: true}
	store.students["stu-2"] = models.Student{ID: "stu-2", NIS: "2025002", FullName: "Budi Santoso", Active: true}
	seedTuition(store, "tu-7", "stu-1", "cls-1", 7, 500000)
	seedTuition(store, "tu-8", "stu-1", "cls-1", 8, 500000)
	seedTuition(store, "tu-9", "stu-1", "cls-1", 9, 500000)
	seedTuition(store, "tu-b7", "stu-2", "cls-1", 7, 500000)

	payments := newPaymentServiceForTest(store, clock)
	if allocator == nil {
		allocator = NewUniqueAmountService(fakeReader{store}, UniqueAmountConfig{}, nil, nil, WithUniqueAmountClock(clock.Now))
	}
	idem := newMemoryIdempotencyStore()
	svc := NewPaymentRequestService(PaymentRequestDeps{
		UnitOfWork:  store,
		Requests:    fakeReader{store},
		Banks:       fakeReader{store},
		Students:    fakeReader{store},
		Ledger:      payments,
		Allocator:   allocator,
		Idempotency: newIdempotencyForTest(idem, clock),
		Receipts:    receipt.NewRenderer(time.UTC),
	}, PaymentRequestConfig{RequestTTL: 10 * time.Minute, DisplayTTL: 5 * time.Minute, TransferGrace: 2 * time.Minute, SchoolName: "SMA ADP"}, WithPaymentRequestClock(clock.Now))

	return &requestFixture{store: store, clock: clock, idem: idem, payments: payments, svc: svc}
}

func (f *requestFixture) applyDiscount(t *testing.T, month int, amount int64) {
	t.Helper()
	ctx := context.Background()
	f.store.years["ay-1"] = true
	f.store.classes["cls-1"] = models.Class{ID: "cls-1", AcademicYearID: "ay-1", MonthlyFee: rupiah(500000)}
	classID := "cls-1"

	discounts := NewDiscountService(f.store, fakeReader{f.store}, fakeReader{f.store}, nil, nil, WithDiscountClock(f.clock.Now))
	discount, err := discounts.Create(ctx, dto.CreateDiscountRequest{
		Name:           fmt.Sprintf("potongan bulan %d", month),
		AcademicYearID: "ay-1",
		ClassID:        &classID,
		Amount:         rupiah(amount),
		TargetPeriods:  []models.Period{{Month: month, Year: 2025}},
	}, "admin-1")
	require.NoError(t, err)
	_, err = discounts.Apply(ctx, discount.ID, false, "admin-1")
	require.NoError(t, err)
}

func (f *requestFixture) create(t *testing.T, studentID string, ids ...string) *models.PaymentRequestDetail {
	t.Helper()
	detail, _, err := f.svc.Create(context.Background(), studentID, dto.CreatePaymentRequest{TuitionIDs: ids, BankAccountID: "bank-1"}, "")
	require.NoError(t, err)
	return detail
}

func TestCreatePaymentRequestBundlesOutstanding(t *testing.T) {
	f := newRequestFixture(t, nil)
	_, err := f.payments.ProcessPayment(context.Background(), dto.ProcessPaymentRequest{TuitionID: "tu-7", Amount: rupiah(100000)}, "emp-1")
	require.NoError(t, err)

	detail := f.create(t, "stu-1", "tu-8", "tu-7")

	assert.Equal(t, models.PaymentRequestStatusPending, detail.Status)
	assert.True(t, detail.BaseAmount.Equal(rupiah(900000)))
	assert.GreaterOrEqual(t, detail.UniqueCode, 1)
	assert.LessOrEqual(t, detail.UniqueCode, 999)
	assert.True(t, detail.TotalAmount.Equal(detail.BaseAmount.Add(decimal.NewFromInt(int64(detail.UniqueCode)))))
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), detail.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), detail.DisplayExpiresAt)
	require.Len(t, detail.Items, 2)
	assert.Equal(t, "tu-7", detail.Items[0].TuitionID)
	assert.True(t, detail.Items[0].Amount.Equal(rupiah(400000)))
	assert.Equal(t, "tu-8", detail.Items[1].TuitionID)
	require.NotNil(t, detail.BankAccount)
	assert.Equal(t, "BCA", detail.BankAccount.BankName)
}

func TestCreatePaymentRequestValidation(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	_, err := f.payments.ProcessPayment(ctx, dto.ProcessPaymentRequest{TuitionID: "tu-9", Amount: rupiah(500000)}, "emp-1")
	require.NoError(t, err)

	cases := []struct {
		name      string
		studentID string
		req       dto.CreatePaymentRequest
		want      *appErrors.Error
	}{
		{"not a student", "", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7"}, BankAccountID: "bank-1"}, appErrors.ErrForbidden},
		{"empty selection", "stu-1", dto.CreatePaymentRequest{BankAccountID: "bank-1"}, appErrors.ErrValidation},
		{"duplicate ids", "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7", "tu-7"}, BankAccountID: "bank-1"}, appErrors.ErrValidation},
		{"unknown bank", "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7"}, BankAccountID: "bank-x"}, appErrors.ErrValidation},
		{"inactive bank", "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7"}, BankAccountID: "bank-off"}, appErrors.ErrValidation},
		{"foreign tuition", "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-b7"}, BankAccountID: "bank-1"}, appErrors.ErrValidation},
		{"missing tuition", "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-404"}, BankAccountID: "bank-1"}, appErrors.ErrValidation},
		{"paid tuition", "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-9"}, BankAccountID: "bank-1"}, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Create(ctx, tc.studentID, tc.req, "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), err.Error())
		})
	}
	assert.Zero(t, f.store.requestCount())
}

func TestCreatePaymentRequestRejectsSecondActiveRequest(t *testing.T) {
	f := newRequestFixture(t, nil)
	f.create(t, "stu-1", "tu-7")

	_, _, err := f.svc.Create(context.Background(), "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-8"}, BankAccountID: "bank-1"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "active payment request")
}

func TestCreatePaymentRequestIsIdempotent(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	req := dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7", "tu-8"}, BankAccountID: "bank-1"}

	first, replayed, err := f.svc.Create(ctx, "stu-1", req, "")
	require.NoError(t, err)
	assert.False(t, replayed)

	reordered := dto.CreatePaymentRequest{TuitionIDs: []string{"tu-8", "tu-7"}, BankAccountID: "bank-1"}
	second, replayed, err := f.svc.Create(ctx, "stu-1", reordered, "")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.Equal(t, 1, f.store.requestCount())
}

func TestCreatePaymentRequestClientKeyReplays(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	req := dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7"}, BankAccountID: "bank-1"}

	first, _, err := f.svc.Create(ctx, "stu-1", req, "checkout-42")
	require.NoError(t, err)
	f.clock.Advance(3 * time.Minute)
	second, replayed, err := f.svc.Create(ctx, "stu-1", req, "checkout-42")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.requestCount())
}

type scriptedAllocator struct {
	totals []int64
	calls  int
}

func (a *scriptedAllocator) AllocateWithin(ctx context.Context, checker PendingTotalChecker, base decimal.Decimal) (*models.UniqueAmount, error) {
	total := a.totals[a.calls%len(a.totals)]
	a.calls++
	code := total - base.IntPart()
	return &models.UniqueAmount{BaseAmount: base, UniqueCode: int(code), TotalAmount: rupiah(total)}, nil
}

func TestCreatePaymentRequestRetriesOnTotalCollision(t *testing.T) {
	allocator := &scriptedAllocator{totals: []int64{500123}}
	f := newRequestFixture(t, allocator)
	f.create(t, "stu-2", "tu-b7")

	allocator.totals = []int64{500123, 500456}
	allocator.calls = 0
	detail := f.create(t, "stu-1", "tu-7")
	assert.Equal(t, 456, detail.UniqueCode)
	assert.Equal(t, 2, allocator.calls)
	assert.Equal(t, 2, f.store.requestCount())
}

func TestCreatePaymentRequestGivesUpAfterRetries(t *testing.T) {
	allocator := &scriptedAllocator{totals: []int64{500123}}
	f := newRequestFixture(t, allocator)
	f.create(t, "stu-2", "tu-b7")

	_, _, err := f.svc.Create(context.Background(), "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7"}, BankAccountID: "bank-1"}, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrCapacity))
	assert.Equal(t, 4, allocator.calls)
	assert.Equal(t, 1, f.store.requestCount())
}

func TestConcurrentPaymentRequestsGetDistinctTotals(t *testing.T) {
	store := newFakeStore()
	clock := newFakeClock()
	store.banks["bank-1"] = models.BankAccount{ID: "bank-1", Active: true}
	const students = 20
	for i := 0; i < students; i++ {
		seedTuition(store, fmt.Sprintf("tu-%02d", i), fmt.Sprintf("stu-%02d", i), "cls-1", 7, 500000)
	}

	var mu sync.Mutex
	draws := 0
	intn := func(n int) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		draws++
		return draws % 7, nil
	}
	allocator := NewUniqueAmountService(fakeReader{store}, UniqueAmountConfig{}, nil, nil, WithUniqueAmountRandom(intn), WithUniqueAmountClock(clock.Now))
	svc := NewPaymentRequestService(PaymentRequestDeps{
		UnitOfWork: store,
		Requests:   fakeReader{store},
		Banks:      fakeReader{store},
		Students:   fakeReader{store},
		Ledger:     newPaymentServiceForTest(store, clock),
		Allocator:  allocator,
	}, PaymentRequestConfig{}, WithPaymentRequestClock(clock.Now))

	var wg sync.WaitGroup
	results := make([]*models.PaymentRequestDetail, students)
	errs := make([]error, students)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = svc.Create(context.Background(), fmt.Sprintf("stu-%02d", i), dto.CreatePaymentRequest{
				TuitionIDs:    []string{fmt.Sprintf("tu-%02d", i)},
				BankAccountID: "bank-1",
			}, "")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	created := 0
	for i := 0; i < students; i++ {
		if errs[i] != nil {
			assert.True(t, errors.Is(errs[i], appErrors.ErrCapacity), errs[i].Error())
			continue
		}
		created++
		total := results[i].TotalAmount.String()
		assert.False(t, seen[total], "duplicate pending total %s", total)
		seen[total] = true
	}
	assert.Equal(t, 7, created)
}

func TestPaymentRequestDisplayAndBackendDeadlines(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7")

	f.clock.Advance(6 * time.Minute)
	current, err := f.svc.Get(ctx, detail.ID, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRequestStatusPending, current.Status)
	view := dto.NewPaymentRequestView(*current, f.svc.Now())
	assert.Equal(t, models.PaymentRequestStatusExpired, view.Status)
	assert.Zero(t, view.RemainingSeconds)

	f.clock.Advance(time.Minute)
	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount, ObservedAt: f.clock.Now(), Reference: "TRX-1"})
	require.NoError(t, err)
	assert.True(t, match.Matched)
	assert.Equal(t, detail.ID, match.PaymentRequestID)
	require.Len(t, match.Payments, 1)
	assert.Equal(t, models.PaymentSourceTransfer, match.Payments[0].Source)
	assert.Nil(t, match.Payments[0].EmployeeID)

	assert.Equal(t, models.TuitionStatusPaid, f.store.tuition("tu-7").Status)
	verified, err := f.svc.Get(ctx, detail.ID, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRequestStatusVerified, verified.Status)
	require.NotNil(t, verified.TransferRef)
	assert.Equal(t, "TRX-1", *verified.TransferRef)
}

func TestVerifyTransferAfterBackendDeadlineIsUnmatched(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7")

	f.clock.Advance(10 * time.Minute)
	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)
	assert.False(t, match.Matched)
	assert.Zero(t, f.store.paymentCount())

	current, err := f.svc.Get(ctx, detail.ID, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRequestStatusExpired, current.Status)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	again := f.create(t, "stu-1", "tu-7")
	assert.NotEqual(t, detail.ID, again.ID)
}

func TestVerifyTransferMatchesOnBankObservationTime(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	created := f.clock.Now()
	detail := f.create(t, "stu-1", "tu-7")

	// Observed one minute before the deadline, processed one minute after it.
	f.clock.Advance(11 * time.Minute)
	observed := created.Add(9 * time.Minute)
	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount, ObservedAt: observed, Reference: "TRX-LATE"})
	require.NoError(t, err)
	require.True(t, match.Matched)
	assert.Equal(t, detail.ID, match.PaymentRequestID)
	require.Len(t, match.Payments, 1)
	assert.True(t, match.Payments[0].PaymentDate.Equal(observed))
	assert.Equal(t, models.TuitionStatusPaid, f.store.tuition("tu-7").Status)
}

func TestVerifyTransferObservationBeyondGraceIsUnmatched(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	created := f.clock.Now()
	detail := f.create(t, "stu-1", "tu-7")

	f.clock.Advance(12*time.Minute + time.Second)
	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount, ObservedAt: created.Add(9 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, match.Matched)
	assert.Zero(t, f.store.paymentCount())
}

func TestVerifyTransferSkipsTuitionPaidMeanwhile(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7", "tu-8")

	f.applyDiscount(t, 8, 500000)
	require.Equal(t, models.TuitionStatusPaid, f.store.tuition("tu-8").Status)

	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)
	assert.True(t, match.Matched)
	require.Len(t, match.Payments, 1)
	assert.Equal(t, "tu-7", match.Payments[0].TuitionID)
	assert.Equal(t, []string{"tu-8"}, match.SkippedTuitionIDs)
	assert.True(t, match.Surplus.Equal(rupiah(500000)), match.Surplus.String())
	assert.Equal(t, 1, f.store.paymentCount())
	assert.True(t, f.store.tuition("tu-8").PaidAmount.IsZero())
	assert.Empty(t, f.store.statusViolations())

	replay, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)
	assert.False(t, replay.Matched)
}

func TestVerifyTransferCapsItemsAtCurrentOutstanding(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7")

	f.applyDiscount(t, 7, 100000)

	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)
	require.True(t, match.Matched)
	require.Len(t, match.Payments, 1)
	assert.True(t, match.Payments[0].Amount.Equal(rupiah(400000)))
	assert.True(t, match.Surplus.Equal(rupiah(100000)), match.Surplus.String())

	tuition := f.store.tuition("tu-7")
	assert.Equal(t, models.TuitionStatusPaid, tuition.Status)
	assert.True(t, tuition.PaidAmount.Equal(models.EffectiveFee(tuition.FeeAmount, tuition.ScholarshipAmount, tuition.DiscountAmount)))
	assert.Empty(t, f.store.statusViolations())
}

func TestManualPaymentRejectedWhileTuitionAwaitsTransfer(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7")

	_, err := f.payments.ProcessPayment(ctx, dto.ProcessPaymentRequest{TuitionID: "tu-7", Amount: rupiah(200000)}, "emp-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConflict), err.Error())
	assert.Zero(t, f.store.paymentCount())

	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)
	require.True(t, match.Matched)
	tuition := f.store.tuition("tu-7")
	assert.True(t, tuition.PaidAmount.Equal(rupiah(500000)))
	assert.True(t, match.Surplus.IsZero())

	_, err = f.svc.Cancel(ctx, detail.ID, "stu-1")
	require.Error(t, err)

	_, err = f.payments.ProcessPayment(ctx, dto.ProcessPaymentRequest{TuitionID: "tu-8", Amount: rupiah(200000)}, "emp-1")
	require.NoError(t, err)
}

func TestVerifyTransferUnknownAmount(t *testing.T) {
	f := newRequestFixture(t, nil)
	match, err := f.svc.VerifyTransfer(context.Background(), models.TransferEvent{Amount: rupiah(123)})
	require.NoError(t, err)
	assert.False(t, match.Matched)

	_, err = f.svc.VerifyTransfer(context.Background(), models.TransferEvent{Amount: rupiah(0)})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestCancelPaymentRequest(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7")

	_, err := f.svc.Cancel(ctx, detail.ID, "stu-2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	cancelled, err := f.svc.Cancel(ctx, detail.ID, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRequestStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = f.svc.Cancel(ctx, detail.ID, "stu-1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	match, err := f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)
	assert.False(t, match.Matched)

	active, err := f.svc.GetActive(ctx, "stu-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestPaymentRequestOwnershipAndHistory(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7")

	_, err := f.svc.Get(ctx, detail.ID, "stu-2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	staff, err := f.svc.Get(ctx, detail.ID, "")
	require.NoError(t, err)
	assert.Equal(t, detail.ID, staff.ID)

	active, err := f.svc.GetActive(ctx, "stu-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, detail.ID, active.ID)

	f.clock.Advance(11 * time.Minute)
	history, err := f.svc.ListByStudent(ctx, "stu-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.PaymentRequestStatusExpired, history[0].Status)

	accounts, err := f.svc.BankAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestPaymentRequestReceipt(t *testing.T) {
	f := newRequestFixture(t, nil)
	ctx := context.Background()
	detail := f.create(t, "stu-1", "tu-7", "tu-8")

	_, _, err := f.svc.Receipt(ctx, detail.ID, "stu-1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.svc.VerifyTransfer(ctx, models.TransferEvent{Amount: detail.TotalAmount})
	require.NoError(t, err)

	body, filename, err := f.svc.Receipt(ctx, detail.ID, "stu-1")
	require.NoError(t, err)
	assert.True(t, len(body) > 4 && string(body[:4]) == "%PDF")
	assert.Contains(t, filename, "KW-20250701-")

	_, _, err = f.svc.Receipt(ctx, detail.ID, "stu-2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestPendingStudentViolationIsValidation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: repository.PendingStudentConstraint})
	f := newRequestFixture(t, &failingAllocator{err: appErrors.Internal(err, "failed to insert payment request")})
	_, _, createErr := f.svc.Create(context.Background(), "stu-1", dto.CreatePaymentRequest{TuitionIDs: []string{"tu-7"}, BankAccountID: "bank-1"}, "")
	require.Error(t, createErr)
	assert.True(t, errors.Is(createErr, appErrors.ErrValidation))
}

type failingAllocator struct {
	err error
}

func (a *failingAllocator) AllocateWithin(ctx context.Context, checker PendingTotalChecker, base decimal.Decimal) (*models.UniqueAmount, error) {
	return nil, a.err
}
