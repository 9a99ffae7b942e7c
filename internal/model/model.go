// Package model содержит доменные сущности платёжного реестра займов.
package model

import "time"

// LoanStatus описывает состояние займа.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "ACTIVE"
	LoanStatusClosed   LoanStatus = "CLOSED"
	LoanStatusRejected LoanStatus = "REJECTED"
)

// Loan описывает условия займа, относительно которых считается остаток.
// Денежные суммы хранятся в минимальных единицах валюты.
type Loan struct {
	ID             string
	BorrowerID     string
	PrincipalTotal int64
	InterestTotal  int64
	NextDueDate    time.Time
	Status         LoanStatus
	CreatedAt      time.Time
}

// PaymentMethod описывает способ внесения платежа.
type PaymentMethod string

const (
	PaymentMethodCash             PaymentMethod = "cash"
	PaymentMethodBankTransferUPI  PaymentMethod = "bank_transfer_upi"
	PaymentMethodBankTransferNEFT PaymentMethod = "bank_transfer_neft"
	PaymentMethodChequeDeposit    PaymentMethod = "cheque_deposit"
	PaymentMethodOther            PaymentMethod = "other"
)

// KnownPaymentMethod сообщает, входит ли способ платежа в допустимый набор.
func KnownPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentMethodCash,
		PaymentMethodBankTransferUPI,
		PaymentMethodBankTransferNEFT,
		PaymentMethodChequeDeposit,
		PaymentMethodOther:
		return true
	}
	return false
}

// PaymentEntry описывает одну запись реестра платежей.
// После сохранения запись неизменяема; корректировки делаются новой записью.
type PaymentEntry struct {
	ID                   string
	LoanID               string
	BorrowerID           string
	RecordedByAdminID    string
	PaymentDate          time.Time
	RecordedAt           time.Time
	AmountPaid           int64
	PrincipalApplied     int64
	InterestApplied      int64
	PenaltyApplied       int64
	PaymentMethod        PaymentMethod
	TransactionReference string
	IsLatePayment        bool
	DaysLate             int
	Notes                string
}

// LoanAccountView содержит производное состояние счёта займа.
// Всегда может быть пересчитано из полного реестра платежей.
type LoanAccountView struct {
	LoanID               string
	OutstandingPrincipal int64
	OutstandingInterest  int64
	TotalPenaltyAccrued  int64
	LastPaymentAt        *time.Time
	Version              int64
}

// NotificationType описывает вид уведомления.
type NotificationType string

const (
	NotificationPaymentReceived NotificationType = "payment_received_confirmation"
	NotificationPaymentOverdue  NotificationType = "payment_overdue_alert"
	NotificationLoanRejected    NotificationType = "loan_rejected_details"
)

// NotificationRecord описывает уведомление, созданное как побочный эффект
// изменения реестра или состояния заявки.
type NotificationRecord struct {
	ID             string
	RecipientID    string
	Type           NotificationType
	Message        string
	LoanID         string
	PaymentEntryID string
	IsRead         bool
	CreatedAt      time.Time
}
