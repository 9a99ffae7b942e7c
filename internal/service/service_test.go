package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lenddesk/loanledger/internal/clock"
	"github.com/lenddesk/loanledger/internal/model"
	"github.com/lenddesk/loanledger/internal/notification"
	"github.com/lenddesk/loanledger/internal/repository"
	"github.com/lenddesk/loanledger/internal/validation"
)

type stubRepo struct {
	mu sync.Mutex

	loan    *model.Loan
	loanErr error

	account    model.LoanAccountView
	accountErr error

	entries   []model.PaymentEntry
	createErr error

	notifications []model.NotificationRecord

	getLoanCalls int

	// onAccountRead вызывается после чтения счёта, до возврата — для
	// моделирования двух конкурентных чтений одной версии.
	onAccountRead func()
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateLoan(ctx context.Context, loan *model.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loan = loan
	s.account = model.LoanAccountView{
		LoanID:               loan.ID,
		OutstandingPrincipal: loan.PrincipalTotal,
		OutstandingInterest:  loan.InterestTotal,
	}
	return nil
}

func (s *stubRepo) GetLoan(ctx context.Context, loanID string) (*model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getLoanCalls++
	if s.loanErr != nil {
		return nil, s.loanErr
	}
	if s.loan == nil || s.loan.ID != loanID {
		return nil, repository.ErrLoanNotFound
	}
	l := *s.loan
	return &l, nil
}

func (s *stubRepo) GetOverdueLoans(ctx context.Context, asOf time.Time, limit int) ([]model.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loan != nil && s.loan.NextDueDate.Before(asOf) {
		return []model.Loan{*s.loan}, nil
	}
	return nil, nil
}

func (s *stubRepo) GetAccountView(ctx context.Context, loanID string) (*model.LoanAccountView, error) {
	s.mu.Lock()
	if s.accountErr != nil {
		s.mu.Unlock()
		return nil, s.accountErr
	}
	v := s.account
	hook := s.onAccountRead
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return &v, nil
}

func (s *stubRepo) CreatePaymentEntry(ctx context.Context, entry *model.PaymentEntry, view *model.LoanAccountView, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if expectedVersion != s.account.Version {
		return repository.ErrVersionConflict
	}
	s.entries = append(s.entries, *entry)
	s.account = *view
	s.account.Version = expectedVersion + 1
	return nil
}

func (s *stubRepo) GetPaymentsByLoan(ctx context.Context, loanID string) ([]model.PaymentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]model.PaymentEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		res = append(res, s.entries[i])
	}
	return res, nil
}

func (s *stubRepo) GetPaymentsByLoanChronological(ctx context.Context, loanID string) ([]model.PaymentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PaymentEntry(nil), s.entries...), nil
}

func (s *stubRepo) GetNotificationsByRecipient(ctx context.Context, recipientID string) ([]model.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.NotificationRecord(nil), s.notifications...), nil
}

func (s *stubRepo) SetNotificationRead(ctx context.Context, id string, isRead bool) error {
	return nil
}

func (s *stubRepo) CreateNotification(ctx context.Context, n *model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

func day(n int) time.Time {
	return time.Date(2026, time.January, n, 0, 0, 0, 0, time.UTC)
}

func activeLoan() *model.Loan {
	return &model.Loan{
		ID:             "loan-1",
		BorrowerID:     "borrower-1",
		PrincipalTotal: 100000,
		InterestTotal:  10000,
		NextDueDate:    day(10),
		Status:         model.LoanStatusActive,
	}
}

func accountFor(loan *model.Loan) model.LoanAccountView {
	return model.LoanAccountView{
		LoanID:               loan.ID,
		OutstandingPrincipal: loan.PrincipalTotal,
		OutstandingInterest:  loan.InterestTotal,
	}
}

func proposed() ProposedPayment {
	return ProposedPayment{
		AmountPaid:       1000,
		PrincipalApplied: 800,
		InterestApplied:  150,
		PenaltyApplied:   50,
		PaymentMethod:    model.PaymentMethodBankTransferUPI,
	}
}

func TestRecordPayment_LatePaymentMetadata(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}
	svc := NewService(repo, nil, clock.NewFake(day(13)))

	entry, err := svc.RecordPayment(context.Background(), "loan-1", "admin-1", proposed())
	if err != nil {
		t.Fatalf("RecordPayment error: %v", err)
	}

	if !entry.IsLatePayment {
		t.Fatalf("IsLatePayment = false, want true")
	}
	if entry.DaysLate != 3 {
		t.Fatalf("DaysLate = %d, want 3", entry.DaysLate)
	}
	if entry.BorrowerID != "borrower-1" || entry.RecordedByAdminID != "admin-1" {
		t.Fatalf("unexpected actor fields: %+v", entry)
	}
}

func TestRecordPayment_OnTimePayment(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}
	svc := NewService(repo, nil, clock.NewFake(day(9)))

	entry, err := svc.RecordPayment(context.Background(), "loan-1", "admin-1", proposed())
	if err != nil {
		t.Fatalf("RecordPayment error: %v", err)
	}

	if entry.IsLatePayment || entry.DaysLate != 0 {
		t.Fatalf("on-time payment flagged late: %+v", entry)
	}
}

func TestRecordPayment_SplitMismatchRejectedBeforePersistence(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}
	svc := NewService(repo, nil, clock.NewFake(day(9)))

	p := proposed()
	p.PenaltyApplied = 49 // 800 + 150 + 49 = 999 != 1000

	_, err := svc.RecordPayment(context.Background(), "loan-1", "admin-1", p)

	var verr *validation.Error
	if !errors.As(err, &verr) || verr.Code != validation.CodeAmountMismatch {
		t.Fatalf("expected AmountMismatch, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Fatalf("entry persisted despite validation failure")
	}
}

func TestRecordPayment_LoanNotFound(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, clock.NewFake(day(9)))

	_, err := svc.RecordPayment(context.Background(), "missing", "admin-1", proposed())
	if !errors.Is(err, repository.ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestRecordPayment_UpdatesAccountView(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}
	svc := NewService(repo, nil, clock.NewFake(day(9)))

	if _, err := svc.RecordPayment(context.Background(), "loan-1", "admin-1", proposed()); err != nil {
		t.Fatalf("RecordPayment error: %v", err)
	}

	if repo.account.OutstandingPrincipal != 99200 {
		t.Fatalf("OutstandingPrincipal = %d, want 99200", repo.account.OutstandingPrincipal)
	}
	if repo.account.OutstandingInterest != 9850 {
		t.Fatalf("OutstandingInterest = %d, want 9850", repo.account.OutstandingInterest)
	}
	if repo.account.TotalPenaltyAccrued != 50 {
		t.Fatalf("TotalPenaltyAccrued = %d, want 50", repo.account.TotalPenaltyAccrued)
	}
	if repo.account.LastPaymentAt == nil {
		t.Fatalf("LastPaymentAt not set")
	}
	if repo.account.Version != 1 {
		t.Fatalf("Version = %d, want 1", repo.account.Version)
	}
}

func TestRecordPayment_ConcurrentWritesLoseNoUpdate(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}

	// Барьер заставляет оба вызова прочитать одну и ту же версию счёта.
	var barrier sync.WaitGroup
	barrier.Add(2)
	repo.onAccountRead = func() {
		barrier.Done()
		barrier.Wait()
	}

	svc := NewService(repo, nil, clock.NewFake(day(9)))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.RecordPayment(context.Background(), "loan-1", "admin-1", proposed())
			errs <- err
		}()
	}

	var conflicts, successes int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			successes++
		case errors.Is(err, repository.ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != 1 || conflicts != 1 {
		t.Fatalf("successes = %d, conflicts = %d; want exactly one of each", successes, conflicts)
	}

	// Счёт отражает ровно один платёж — потерянных обновлений нет.
	if len(repo.entries) != 1 {
		t.Fatalf("persisted entries = %d, want 1", len(repo.entries))
	}
	if repo.account.OutstandingPrincipal != 99200 {
		t.Fatalf("OutstandingPrincipal = %d, want 99200", repo.account.OutstandingPrincipal)
	}
}

func TestRecordPayment_DispatchesConfirmation(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}

	fake := clock.NewFake(day(9))
	dispatcher := notification.NewDispatcher(repo, zap.NewNop(), fake, "admin-pool", 8)
	svc := NewService(repo, dispatcher, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	if _, err := svc.RecordPayment(context.Background(), "loan-1", "admin-1", proposed()); err != nil {
		t.Fatalf("RecordPayment error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		repo.mu.Lock()
		n := len(repo.notifications)
		repo.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("notification not created, have %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if repo.notifications[0].Type != model.NotificationPaymentReceived {
		t.Fatalf("notification type = %s, want %s", repo.notifications[0].Type, model.NotificationPaymentReceived)
	}
}

func TestCreateLoan_Validation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, clock.NewFake(day(1)))

	_, err := svc.CreateLoan(context.Background(), NewLoan{
		PrincipalTotal: 100000,
		NextDueDate:    day(30),
	})

	var verr *validation.Error
	if !errors.As(err, &verr) || verr.Field != "borrowerId" {
		t.Fatalf("expected MissingRequiredField(borrowerId), got %v", err)
	}
}

func TestStartOverdueScan_EmitsAlerts(t *testing.T) {
	loan := activeLoan()
	repo := &stubRepo{loan: loan, account: accountFor(loan)}

	fake := clock.NewFake(day(20))
	dispatcher := notification.NewDispatcher(repo, zap.NewNop(), fake, "admin-pool", 8)
	svc := NewService(repo, dispatcher, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	svc.StartOverdueScan(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for {
		repo.mu.Lock()
		var found bool
		for _, n := range repo.notifications {
			if n.Type == model.NotificationPaymentOverdue && n.RecipientID == "admin-pool" {
				found = true
			}
		}
		repo.mu.Unlock()
		if found {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("overdue alert not dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
