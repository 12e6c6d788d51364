package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func rupiah(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// fakeStore is an in-memory ledger. WithinTx serializes transactions and
// restores a snapshot when fn fails, mirroring commit/rollback.
type fakeStore struct {
	mu sync.Mutex

	tuitions     map[string]models.Tuition
	payments     map[string]models.Payment
	requests     map[string]models.PaymentRequest
	items        map[string][]models.PaymentRequestItem
	scholarships []models.Scholarship
	discounts    map[string]models.Discount
	audits       []models.AuditLog

	classes     map[string]models.Class
	years       map[string]bool
	enrollments map[string]bool
	banks       map[string]models.BankAccount
	students    map[string]models.Student

	seq               int
	failCreatePayment error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tuitions:    map[string]models.Tuition{},
		payments:    map[string]models.Payment{},
		requests:    map[string]models.PaymentRequest{},
		items:       map[string][]models.PaymentRequestItem{},
		discounts:   map[string]models.Discount{},
		classes:     map[string]models.Class{},
		years:       map[string]bool{},
		enrollments: map[string]bool{},
		banks:       map[string]models.BankAccount{},
		students:    map[string]models.Student{},
	}
}

func (s *fakeStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%03d", prefix, s.seq)
}

func (s *fakeStore) addTuition(t models.Tuition) {
	if t.Status == "" {
		t.Recompute()
	}
	s.tuitions[t.ID] = t
}

func (s *fakeStore) tuition(id string) models.Tuition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuitions[id]
}

func (s *fakeStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *fakeStore) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type fakeSnapshot struct {
	tuitions     map[string]models.Tuition
	payments     map[string]models.Payment
	requests     map[string]models.PaymentRequest
	items        map[string][]models.PaymentRequestItem
	scholarships []models.Scholarship
	discounts    map[string]models.Discount
	audits       []models.AuditLog
}

func (s *fakeStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		tuitions:     make(map[string]models.Tuition, len(s.tuitions)),
		payments:     make(map[string]models.Payment, len(s.payments)),
		requests:     make(map[string]models.PaymentRequest, len(s.requests)),
		items:        make(map[string][]models.PaymentRequestItem, len(s.items)),
		scholarships: append([]models.Scholarship(nil), s.scholarships...),
		discounts:    make(map[string]models.Discount, len(s.discounts)),
		audits:       append([]models.AuditLog(nil), s.audits...),
	}
	for k, v := range s.tuitions {
		snap.tuitions[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.items {
		snap.items[k] = append([]models.PaymentRequestItem(nil), v...)
	}
	for k, v := range s.discounts {
		snap.discounts[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.tuitions = snap.tuitions
	s.payments = snap.payments
	s.requests = snap.requests
	s.items = snap.items
	s.scholarships = snap.scholarships
	s.discounts = snap.discounts
	s.audits = snap.audits
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(fakeTx{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// fakeTx exposes the store without locking; it only exists inside WithinTx.
type fakeTx struct {
	s *fakeStore
}

var _ repository.Tx = fakeTx{}

func sortTuitions(list []models.Tuition, less func(a, b models.Tuition) bool) []models.Tuition {
	sort.SliceStable(list, func(i, j int) bool { return less(list[i], list[j]) })
	return list
}

func (t fakeTx) GetTuitionForUpdate(ctx context.Context, id string) (*models.Tuition, error) {
	tuition, ok := t.s.tuitions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &tuition, nil
}

func (t fakeTx) ListTuitionsForUpdate(ctx context.Context, ids []string) ([]models.Tuition, error) {
	var out []models.Tuition
	for _, id := range ids {
		if tuition, ok := t.s.tuitions[id]; ok {
			out = append(out, tuition)
		}
	}
	return sortTuitions(out, func(a, b models.Tuition) bool { return a.ID < b.ID }), nil
}

func (t fakeTx) listWhere(keep func(models.Tuition) bool) []models.Tuition {
	var out []models.Tuition
	for _, tuition := range t.s.tuitions {
		if keep(tuition) {
			out = append(out, tuition)
		}
	}
	return sortTuitions(out, settlesBefore)
}

func (t fakeTx) ListUnpaidTuitionsForUpdate(ctx context.Context, studentID, classID string) ([]models.Tuition, error) {
	return t.listWhere(func(x models.Tuition) bool {
		return x.StudentID == studentID && x.ClassID == classID && x.Status == models.TuitionStatusUnpaid
	}), nil
}

func (t fakeTx) ListOpenTuitionsForUpdate(ctx context.Context, studentID, classID string) ([]models.Tuition, error) {
	return t.listWhere(func(x models.Tuition) bool {
		return x.StudentID == studentID && x.ClassID == classID && x.Status != models.TuitionStatusPaid
	}), nil
}

func (t fakeTx) ListDiscountCandidatesForUpdate(ctx context.Context, academicYearID string, classID *string, periods models.Periods) ([]models.Tuition, error) {
	return t.listWhere(func(x models.Tuition) bool {
		class, ok := t.s.classes[x.ClassID]
		if !ok || class.AcademicYearID != academicYearID || x.Status == models.TuitionStatusPaid {
			return false
		}
		if classID != nil && x.ClassID != *classID {
			return false
		}
		return periods.Contains(x.Month, x.Year)
	}), nil
}

func (t fakeTx) UpdateTuitionLedger(ctx context.Context, tuition *models.Tuition) error {
	stored, ok := t.s.tuitions[tuition.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.ScholarshipAmount = tuition.ScholarshipAmount
	stored.DiscountAmount = tuition.DiscountAmount
	stored.PaidAmount = tuition.PaidAmount
	stored.Status = tuition.Status
	stored.UpdatedAt = tuition.UpdatedAt
	t.s.tuitions[tuition.ID] = stored
	return nil
}

func (t fakeTx) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if t.s.failCreatePayment != nil {
		return t.s.failCreatePayment
	}
	if payment.ID == "" {
		payment.ID = t.s.nextID("pay")
	}
	t.s.payments[payment.ID] = *payment
	return nil
}

func (t fakeTx) GetPaymentForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	payment, ok := t.s.payments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &payment, nil
}

func (t fakeTx) DeletePayment(ctx context.Context, id string) error {
	if _, ok := t.s.payments[id]; !ok {
		return sql.ErrNoRows
	}
	delete(t.s.payments, id)
	return nil
}

func (t fakeTx) SumPayments(ctx context.Context, tuitionID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range t.s.payments {
		if p.TuitionID == tuitionID {
			total = total.Add(p.Amount)
		}
	}
	return total, nil
}

func (t fakeTx) ExpireStalePaymentRequests(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, req := range t.s.requests {
		if req.Status == models.PaymentRequestStatusPending && !now.Before(req.ExpiresAt) {
			req.Status = models.PaymentRequestStatusExpired
			req.UpdatedAt = now
			t.s.requests[id] = req
			n++
		}
	}
	return n, nil
}

func (t fakeTx) PendingTotalExists(ctx context.Context, total decimal.Decimal, now time.Time) (bool, error) {
	for _, req := range t.s.requests {
		if req.Status == models.PaymentRequestStatusPending && req.ExpiresAt.After(now) && req.TotalAmount.Equal(total) {
			return true, nil
		}
	}
	return false, nil
}

func (t fakeTx) ActiveRequestTuitionIDs(ctx context.Context, tuitionIDs []string, now time.Time) ([]string, error) {
	wanted := map[string]bool{}
	for _, id := range tuitionIDs {
		wanted[id] = true
	}
	var out []string
	for reqID, items := range t.s.items {
		req := t.s.requests[reqID]
		if req.Status != models.PaymentRequestStatusPending || !req.ExpiresAt.After(now) {
			continue
		}
		for _, item := range items {
			if wanted[item.TuitionID] {
				out = append(out, item.TuitionID)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t fakeTx) FindActivePaymentRequest(ctx context.Context, studentID string, now time.Time) (*models.PaymentRequest, error) {
	var found *models.PaymentRequest
	for _, req := range t.s.requests {
		req := req
		if req.StudentID != studentID || req.Status != models.PaymentRequestStatusPending || !req.ExpiresAt.After(now) {
			continue
		}
		if found == nil || req.CreatedAt.After(found.CreatedAt) {
			found = &req
		}
	}
	if found == nil {
		return nil, sql.ErrNoRows
	}
	return found, nil
}

func (t fakeTx) CreatePaymentRequest(ctx context.Context, req *models.PaymentRequest, items []models.PaymentRequestItem) error {
	for _, existing := range t.s.requests {
		if existing.Status != models.PaymentRequestStatusPending {
			continue
		}
		if existing.TotalAmount.Equal(req.TotalAmount) {
			return fmt.Errorf("create payment request: %w", &pq.Error{Code: "23505", Constraint: repository.PendingTotalConstraint})
		}
		if existing.StudentID == req.StudentID {
			return fmt.Errorf("create payment request: %w", &pq.Error{Code: "23505", Constraint: repository.PendingStudentConstraint})
		}
	}
	if req.ID == "" {
		req.ID = t.s.nextID("req")
	}
	req.UpdatedAt = req.CreatedAt
	stored := make([]models.PaymentRequestItem, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = t.s.nextID("item")
		}
		items[i].PaymentRequestID = req.ID
		stored[i] = items[i]
	}
	t.s.requests[req.ID] = *req
	t.s.items[req.ID] = stored
	return nil
}

func (t fakeTx) GetPaymentRequestForUpdate(ctx context.Context, id string) (*models.PaymentRequest, error) {
	req, ok := t.s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (t fakeTx) FindPendingByTotalForUpdate(ctx context.Context, amount decimal.Decimal, now time.Time) (*models.PaymentRequest, error) {
	for _, req := range t.s.requests {
		if req.Status == models.PaymentRequestStatusPending && req.ExpiresAt.After(now) && req.TotalAmount.Equal(amount) {
			return &req, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t fakeTx) ListPaymentRequestItems(ctx context.Context, requestID string) ([]models.PaymentRequestItem, error) {
	items := append([]models.PaymentRequestItem(nil), t.s.items[requestID]...)
	for i := range items {
		tuition := t.s.tuitions[items[i].TuitionID]
		items[i].Month, items[i].Year, items[i].DueDate = tuition.Month, tuition.Year, tuition.DueDate
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := t.s.tuitions[items[i].TuitionID], t.s.tuitions[items[j].TuitionID]
		return settlesBefore(a, b)
	})
	return items, nil
}

func (t fakeTx) UpdatePaymentRequestStatus(ctx context.Context, req *models.PaymentRequest) error {
	if _, ok := t.s.requests[req.ID]; !ok {
		return sql.ErrNoRows
	}
	t.s.requests[req.ID] = *req
	return nil
}

func (t fakeTx) CreateScholarship(ctx context.Context, sch *models.Scholarship) error {
	if sch.ID == "" {
		sch.ID = t.s.nextID("sch")
	}
	t.s.scholarships = append(t.s.scholarships, *sch)
	return nil
}

func (t fakeTx) SumScholarships(ctx context.Context, studentID, classID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, sch := range t.s.scholarships {
		if sch.StudentID == studentID && sch.ClassID == classID {
			total = total.Add(sch.Nominal)
		}
	}
	return total, nil
}

func (t fakeTx) GetDiscountForUpdate(ctx context.Context, id string) (*models.Discount, error) {
	d, ok := t.s.discounts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &d, nil
}

func (t fakeTx) MarkDiscountApplied(ctx context.Context, id string, at time.Time) error {
	d, ok := t.s.discounts[id]
	if !ok || d.AppliedAt != nil {
		return sql.ErrNoRows
	}
	d.AppliedAt = &at
	t.s.discounts[id] = d
	return nil
}

func (t fakeTx) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	t.s.audits = append(t.s.audits, *log)
	return nil
}

// fakeReader serves the non-transactional read paths under the store lock.
type fakeReader struct {
	s *fakeStore
}

func (r fakeReader) tx() fakeTx { return fakeTx{r.s} }

func (r fakeReader) GetTuition(ctx context.Context, id string) (*models.Tuition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().GetTuitionForUpdate(ctx, id)
}

func (r fakeReader) ListTuitions(ctx context.Context, filter models.TuitionFilter) ([]models.Tuition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().listWhere(func(x models.Tuition) bool {
		return (filter.StudentID == "" || x.StudentID == filter.StudentID) &&
			(filter.ClassID == "" || x.ClassID == filter.ClassID) &&
			(filter.Status == "" || x.Status == filter.Status) &&
			(filter.Year == 0 || x.Year == filter.Year)
	}), nil
}

func (r fakeReader) ListPaymentsByTuition(ctx context.Context, tuitionID string) ([]models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Payment
	for _, p := range r.s.payments {
		if p.TuitionID == tuitionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r fakeReader) GetPaymentRequest(ctx context.Context, id string) (*models.PaymentRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().GetPaymentRequestForUpdate(ctx, id)
}

func (r fakeReader) FindActivePaymentRequest(ctx context.Context, studentID string, now time.Time) (*models.PaymentRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().FindActivePaymentRequest(ctx, studentID, now)
}

func (r fakeReader) ListPaymentRequestsByStudent(ctx context.Context, studentID string, limit int) ([]models.PaymentRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.PaymentRequest
	for _, req := range r.s.requests {
		if req.StudentID == studentID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r fakeReader) ListPaymentRequestItems(ctx context.Context, requestID string) ([]models.PaymentRequestItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().ListPaymentRequestItems(ctx, requestID)
}

func (r fakeReader) ExpireStalePaymentRequests(ctx context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().ExpireStalePaymentRequests(ctx, now)
}

func (r fakeReader) PendingTotalExists(ctx context.Context, total decimal.Decimal, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().PendingTotalExists(ctx, total, now)
}

func (r fakeReader) ListOpenScholarshipTotals(ctx context.Context) ([]models.ScholarshipTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pairs := map[[2]string]bool{}
	for _, x := range r.s.tuitions {
		if x.Status != models.TuitionStatusPaid {
			pairs[[2]string{x.StudentID, x.ClassID}] = true
		}
	}
	var out []models.ScholarshipTotal
	for pair := range pairs {
		total, _ := r.tx().SumScholarships(ctx, pair[0], pair[1])
		out = append(out, models.ScholarshipTotal{StudentID: pair[0], ClassID: pair[1], Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassID != out[j].ClassID {
			return out[i].ClassID < out[j].ClassID
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out, nil
}

func (r fakeReader) ListScholarships(ctx context.Context, studentID string) ([]models.Scholarship, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Scholarship
	for _, sch := range r.s.scholarships {
		if sch.StudentID == studentID {
			out = append(out, sch)
		}
	}
	return out, nil
}

func (r fakeReader) CreateDiscount(ctx context.Context, d *models.Discount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.ID == "" {
		d.ID = r.s.nextID("disc")
	}
	r.s.discounts[d.ID] = *d
	return nil
}

func (r fakeReader) GetDiscount(ctx context.Context, id string) (*models.Discount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.tx().GetDiscountForUpdate(ctx, id)
}

func (r fakeReader) GetClass(ctx context.Context, id string) (*models.Class, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	class, ok := r.s.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &class, nil
}

func (r fakeReader) AcademicYearExists(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.years[id], nil
}

func (r fakeReader) IsEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.enrollments[studentID+"/"+classID], nil
}

func (r fakeReader) GetBankAccount(ctx context.Context, id string) (*models.BankAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	bank, ok := r.s.banks[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &bank, nil
}

func (r fakeReader) ListActiveBankAccounts(ctx context.Context) ([]models.BankAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.BankAccount
	for _, bank := range r.s.banks {
		if bank.Active {
			out = append(out, bank)
		}
	}
	return out, nil
}

func (r fakeReader) GetStudent(ctx context.Context, id string) (*models.Student, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	student, ok := r.s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &student, nil
}

var errStoreDown = errors.New("store unavailable")

// assertStatusConsistent reports tuitions whose stored status disagrees with the derivation.
func (s *fakeStore) statusViolations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var bad []string
	for id, t := range s.tuitions {
		if t.Status != models.DeriveTuitionStatus(t.FeeAmount, t.ScholarshipAmount, t.DiscountAmount, t.PaidAmount) {
			bad = append(bad, id)
		}
	}
	sort.Strings(bad)
	return bad
}
