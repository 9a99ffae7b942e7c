// Package service реализует бизнес-логику платёжного реестра займов.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lenddesk/loanledger/internal/clock"
	"github.com/lenddesk/loanledger/internal/metrics"
	"github.com/lenddesk/loanledger/internal/model"
	"github.com/lenddesk/loanledger/internal/notification"
	"github.com/lenddesk/loanledger/internal/validation"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateLoan(ctx context.Context, loan *model.Loan) error
	GetLoan(ctx context.Context, loanID string) (*model.Loan, error)
	GetOverdueLoans(ctx context.Context, asOf time.Time, limit int) ([]model.Loan, error)
	GetAccountView(ctx context.Context, loanID string) (*model.LoanAccountView, error)
	CreatePaymentEntry(ctx context.Context, entry *model.PaymentEntry, view *model.LoanAccountView, expectedVersion int64) error
	GetPaymentsByLoan(ctx context.Context, loanID string) ([]model.PaymentEntry, error)
	GetPaymentsByLoanChronological(ctx context.Context, loanID string) ([]model.PaymentEntry, error)
	GetNotificationsByRecipient(ctx context.Context, recipientID string) ([]model.NotificationRecord, error)
	SetNotificationRead(ctx context.Context, id string, isRead bool) error
}

// Service содержит бизнес-логику реестра платежей.
type Service struct {
	repo       Repository
	dispatcher *notification.Dispatcher
	projector  *Projector
	clock      clock.Clock
}

// NewService создаёт сервис с указанным репозиторием, диспетчером уведомлений
// и источником времени.
func NewService(repo Repository, dispatcher *notification.Dispatcher, c clock.Clock) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		projector:  NewProjector(repo),
		clock:      c,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ProposedPayment — предлагаемый платёж до валидации и записи в реестр.
// Денежные поля — в минимальных единицах валюты.
type ProposedPayment struct {
	PaymentDate          time.Time
	AmountPaid           int64
	PrincipalApplied     int64
	InterestApplied      int64
	PenaltyApplied       int64
	PaymentMethod        model.PaymentMethod
	TransactionReference string
	Notes                string
}

// NewLoan — параметры создаваемого займа.
type NewLoan struct {
	BorrowerID     string
	PrincipalTotal int64
	InterestTotal  int64
	NextDueDate    time.Time
}

// CreateLoan создаёт заём и начальную строку его счёта.
func (s *Service) CreateLoan(ctx context.Context, in NewLoan) (*model.Loan, error) {
	if in.BorrowerID == "" {
		return nil, &validation.Error{Code: validation.CodeMissingRequiredField, Field: "borrowerId"}
	}
	if in.PrincipalTotal < 0 {
		return nil, &validation.Error{Code: validation.CodeNegativeAmount, Field: "principalTotal"}
	}
	if in.InterestTotal < 0 {
		return nil, &validation.Error{Code: validation.CodeNegativeAmount, Field: "interestTotal"}
	}
	if in.NextDueDate.IsZero() {
		return nil, &validation.Error{Code: validation.CodeMissingRequiredField, Field: "nextDueDate"}
	}

	loan := &model.Loan{
		ID:             uuid.NewString(),
		BorrowerID:     in.BorrowerID,
		PrincipalTotal: in.PrincipalTotal,
		InterestTotal:  in.InterestTotal,
		NextDueDate:    in.NextDueDate,
		Status:         model.LoanStatusActive,
		CreatedAt:      s.clock.Now(),
	}

	if err := s.repo.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}

	return loan, nil
}

// RecordPayment проверяет и записывает платёж по займу: создаёт запись реестра
// и атомарно обновляет счёт займа. Каждый прошедший валидацию вызов даёт новую
// запись — дедупликации по transactionReference нет, это забота вызывающего.
func (s *Service) RecordPayment(ctx context.Context, loanID, recordedBy string, p ProposedPayment) (*model.PaymentEntry, error) {
	loan, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	recordedAt := s.clock.Now()

	paymentDate := p.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = recordedAt
	}

	daysLate := 0
	if overdue := recordedAt.Sub(loan.NextDueDate); overdue > 0 {
		daysLate = int(overdue / (24 * time.Hour))
	}

	entry := &model.PaymentEntry{
		ID:                   uuid.NewString(),
		LoanID:               loan.ID,
		BorrowerID:           loan.BorrowerID,
		RecordedByAdminID:    recordedBy,
		PaymentDate:          paymentDate,
		RecordedAt:           recordedAt,
		AmountPaid:           p.AmountPaid,
		PrincipalApplied:     p.PrincipalApplied,
		InterestApplied:      p.InterestApplied,
		PenaltyApplied:       p.PenaltyApplied,
		PaymentMethod:        p.PaymentMethod,
		TransactionReference: p.TransactionReference,
		IsLatePayment:        daysLate > 0,
		DaysLate:             daysLate,
		Notes:                p.Notes,
	}

	if err := validation.ValidatePayment(*entry); err != nil {
		return nil, err
	}

	view, err := s.repo.GetAccountView(ctx, loanID)
	if err != nil {
		return nil, err
	}

	updated := applyEntry(*view, entry)

	if err := s.repo.CreatePaymentEntry(ctx, entry, &updated, view.Version); err != nil {
		// Представление могло устареть независимо от исхода записи.
		s.projector.Invalidate(loanID)
		return nil, err
	}

	s.projector.Invalidate(loanID)
	metrics.PaymentsRecorded.Inc()

	// Уведомления отправляются после фиксации платежа и не могут его откатить.
	if s.dispatcher != nil {
		s.dispatcher.Enqueue(notification.Event{
			Kind:  notification.EventPaymentRecorded,
			Entry: entry,
		})
	}

	return entry, nil
}

// ListPayments возвращает записи платежей займа, новые первыми.
func (s *Service) ListPayments(ctx context.Context, loanID string) ([]model.PaymentEntry, error) {
	if _, err := s.repo.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentsByLoan(ctx, loanID)
}

// Account возвращает текущее состояние счёта займа.
func (s *Service) Account(ctx context.Context, loanID string) (*model.LoanAccountView, error) {
	return s.projector.Project(ctx, loanID)
}

// Notifications возвращает уведомления получателя, новые первыми.
func (s *Service) Notifications(ctx context.Context, recipientID string) ([]model.NotificationRecord, error) {
	return s.repo.GetNotificationsByRecipient(ctx, recipientID)
}

// SetNotificationRead выставляет признак прочтения уведомления.
func (s *Service) SetNotificationRead(ctx context.Context, id string, isRead bool) error {
	return s.repo.SetNotificationRead(ctx, id, isRead)
}

// StartOverdueScan запускает фоновый обход просроченных займов: для каждого
// найденного займа диспетчеру отправляется событие просрочки.
func (s *Service) StartOverdueScan(ctx context.Context, interval time.Duration) {
	if s.dispatcher == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processOverdueBatch(ctx)
			}
		}
	}()
}

// TODO: подавлять повторные уведомления по одному займу между обходами.
func (s *Service) processOverdueBatch(ctx context.Context) {
	loans, err := s.repo.GetOverdueLoans(ctx, s.clock.Now(), 100)
	if err != nil {
		return
	}

	for i := range loans {
		s.dispatcher.Enqueue(notification.Event{
			Kind: notification.EventLoanOverdue,
			Loan: &loans[i],
		})
	}
}
