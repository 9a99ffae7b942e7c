// Package notification переводит события реестра в записи уведомлений.
package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lenddesk/loanledger/internal/clock"
	"github.com/lenddesk/loanledger/internal/metrics"
	"github.com/lenddesk/loanledger/internal/model"
)

// EventKind описывает вид события реестра или заявки.
type EventKind string

const (
	EventPaymentRecorded EventKind = "payment_recorded"
	EventLoanOverdue     EventKind = "loan_overdue"
	EventLoanRejected    EventKind = "loan_rejected"
)

// Event — событие, из которого диспетчер создаёт уведомления.
type Event struct {
	Kind   EventKind
	Entry  *model.PaymentEntry
	Loan   *model.Loan
	Reason string
}

// Repository описывает контракт хранения уведомлений, используемый диспетчером.
type Repository interface {
	CreateNotification(ctx context.Context, n *model.NotificationRecord) error
}

// Dispatcher принимает события в очередь и асинхронно создаёт уведомления.
// Сбой создания уведомления логируется и поглощается: он никогда не влияет
// на породившую его запись в реестре.
type Dispatcher struct {
	repo      Repository
	logger    *zap.Logger
	clock     clock.Clock
	adminPool string
	queue     chan Event
}

// NewDispatcher создаёт диспетчер с очередью указанного размера.
// adminPool — идентификатор получателя служебных уведомлений.
func NewDispatcher(repo Repository, logger *zap.Logger, c clock.Clock, adminPool string, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		repo:      repo,
		logger:    logger,
		clock:     c,
		adminPool: adminPool,
		queue:     make(chan Event, queueSize),
	}
}

// Enqueue ставит событие в очередь, не блокируясь. При переполнении очереди
// событие отбрасывается: доставка уведомлений не важнее записи платежа.
func (d *Dispatcher) Enqueue(e Event) bool {
	select {
	case d.queue <- e:
		return true
	default:
		metrics.NotificationsDropped.Inc()
		d.logger.Warn("notification queue full, event dropped", zap.String("kind", string(e.Kind)))
		return false
	}
}

// Run обрабатывает очередь событий до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			d.handle(ctx, e)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, e Event) {
	for _, n := range d.records(e) {
		if err := d.repo.CreateNotification(ctx, n); err != nil {
			metrics.NotificationFailures.Inc()
			d.logger.Error("create notification failed",
				zap.Error(err),
				zap.String("kind", string(e.Kind)),
				zap.String("recipient", n.RecipientID),
			)
		}
	}
}

// records строит уведомления для события: подтверждение платежа заёмщику,
// просрочка — в пул администраторов.
func (d *Dispatcher) records(e Event) []*model.NotificationRecord {
	now := d.clock.Now()

	switch e.Kind {
	case EventPaymentRecorded:
		if e.Entry == nil {
			return nil
		}
		res := []*model.NotificationRecord{{
			ID:             uuid.NewString(),
			RecipientID:    e.Entry.BorrowerID,
			Type:           model.NotificationPaymentReceived,
			Message:        fmt.Sprintf("Payment of %d received for loan %s", e.Entry.AmountPaid, e.Entry.LoanID),
			LoanID:         e.Entry.LoanID,
			PaymentEntryID: e.Entry.ID,
			CreatedAt:      now,
		}}
		if e.Entry.IsLatePayment {
			res = append(res, &model.NotificationRecord{
				ID:             uuid.NewString(),
				RecipientID:    d.adminPool,
				Type:           model.NotificationPaymentOverdue,
				Message:        fmt.Sprintf("Late payment on loan %s: %d days late", e.Entry.LoanID, e.Entry.DaysLate),
				LoanID:         e.Entry.LoanID,
				PaymentEntryID: e.Entry.ID,
				CreatedAt:      now,
			})
		}
		return res

	case EventLoanOverdue:
		if e.Loan == nil {
			return nil
		}
		return []*model.NotificationRecord{{
			ID:          uuid.NewString(),
			RecipientID: d.adminPool,
			Type:        model.NotificationPaymentOverdue,
			Message:     fmt.Sprintf("Loan %s is past due since %s", e.Loan.ID, e.Loan.NextDueDate.Format("2006-01-02")),
			LoanID:      e.Loan.ID,
			CreatedAt:   now,
		}}

	case EventLoanRejected:
		if e.Loan == nil {
			return nil
		}
		return []*model.NotificationRecord{{
			ID:          uuid.NewString(),
			RecipientID: e.Loan.BorrowerID,
			Type:        model.NotificationLoanRejected,
			Message:     fmt.Sprintf("Loan application %s was rejected: %s", e.Loan.ID, e.Reason),
			LoanID:      e.Loan.ID,
			CreatedAt:   now,
		}}
	}

	return nil
}
