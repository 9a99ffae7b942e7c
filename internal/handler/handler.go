// Package handler содержит HTTP-обработчики API платёжного реестра.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lenddesk/loanledger/internal/middleware"
	"github.com/lenddesk/loanledger/internal/model"
	"github.com/lenddesk/loanledger/internal/ratelimit"
	"github.com/lenddesk/loanledger/internal/repository"
	"github.com/lenddesk/loanledger/internal/service"
	"github.com/lenddesk/loanledger/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateLoan(ctx context.Context, in service.NewLoan) (*model.Loan, error)
	RecordPayment(ctx context.Context, loanID, recordedBy string, p service.ProposedPayment) (*model.PaymentEntry, error)
	ListPayments(ctx context.Context, loanID string) ([]model.PaymentEntry, error)
	Account(ctx context.Context, loanID string) (*model.LoanAccountView, error)
	Notifications(ctx context.Context, recipientID string) ([]model.NotificationRecord, error)
	SetNotificationRead(ctx context.Context, id string, isRead bool) error
}

// Handler реализует HTTP-обработчики API платёжного реестра.
type Handler struct {
	service Service
	logger  *zap.Logger
	auth    *middleware.ActorAuth
	limiter *ratelimit.Limiter
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.ActorAuth, limiter *ratelimit.Limiter) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
		auth:    auth,
		limiter: limiter,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError транслирует ошибку сервиса в класс HTTP-статуса:
// 400 для ошибок валидации, 404 для отсутствующих сущностей,
// 409 для конфликтов конкурентного изменения, 500 для сбоев хранилища.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: string(verr.Code),
			Field: verr.Field,
		})
	case errors.Is(err, repository.ErrLoanNotFound),
		errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrNotificationNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NotFound"})
	case errors.Is(err, repository.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "ConcurrentModification",
			Hint:  "reload loan state and retry",
		})
	case errors.Is(err, repository.ErrLoanExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "LoanExists"})
	default:
		h.logger.Error("persistence failure", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "PersistenceFailure"})
	}
}

type createLoanRequest struct {
	BorrowerID     string `json:"borrower_id"`
	PrincipalTotal int64  `json:"principal_total"`
	InterestTotal  int64  `json:"interest_total"`
	NextDueDate    string `json:"next_due_date"`
}

type loanResponse struct {
	ID             string `json:"id"`
	BorrowerID     string `json:"borrower_id"`
	PrincipalTotal int64  `json:"principal_total"`
	InterestTotal  int64  `json:"interest_total"`
	NextDueDate    string `json:"next_due_date"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// CreateLoan создаёт заём и начальную строку его счёта.
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var dueDate time.Time
	if req.NextDueDate != "" {
		var err error
		dueDate, err = time.Parse(time.RFC3339, req.NextDueDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: string(validation.CodeMissingRequiredField),
				Field: "nextDueDate",
			})
			return
		}
	}

	loan, err := h.service.CreateLoan(r.Context(), service.NewLoan{
		BorrowerID:     req.BorrowerID,
		PrincipalTotal: req.PrincipalTotal,
		InterestTotal:  req.InterestTotal,
		NextDueDate:    dueDate,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, loanResponse{
		ID:             loan.ID,
		BorrowerID:     loan.BorrowerID,
		PrincipalTotal: loan.PrincipalTotal,
		InterestTotal:  loan.InterestTotal,
		NextDueDate:    loan.NextDueDate.Format(time.RFC3339),
		Status:         string(loan.Status),
		CreatedAt:      loan.CreatedAt.Format(time.RFC3339),
	})
}

type recordPaymentRequest struct {
	PaymentDate          string `json:"payment_date,omitempty"`
	AmountPaid           int64  `json:"amount_paid"`
	PrincipalApplied     int64  `json:"principal_applied"`
	InterestApplied      int64  `json:"interest_applied"`
	PenaltyApplied       int64  `json:"penalty_applied"`
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

type paymentEntryResponse struct {
	ID                   string `json:"id"`
	LoanID               string `json:"loan_id"`
	BorrowerID           string `json:"borrower_id"`
	RecordedByAdminID    string `json:"recorded_by_admin_id"`
	PaymentDate          string `json:"payment_date"`
	RecordedAt           string `json:"recorded_at"`
	AmountPaid           int64  `json:"amount_paid"`
	PrincipalApplied     int64  `json:"principal_applied"`
	InterestApplied      int64  `json:"interest_applied"`
	PenaltyApplied       int64  `json:"penalty_applied"`
	PaymentMethod        string `json:"payment_method"`
	TransactionReference string `json:"transaction_reference,omitempty"`
	IsLatePayment        bool   `json:"is_late_payment"`
	DaysLate             int    `json:"days_late"`
	Notes                string `json:"notes,omitempty"`
}

func toPaymentEntryResponse(e *model.PaymentEntry) paymentEntryResponse {
	return paymentEntryResponse{
		ID:                   e.ID,
		LoanID:               e.LoanID,
		BorrowerID:           e.BorrowerID,
		RecordedByAdminID:    e.RecordedByAdminID,
		PaymentDate:          e.PaymentDate.Format(time.RFC3339),
		RecordedAt:           e.RecordedAt.Format(time.RFC3339),
		AmountPaid:           e.AmountPaid,
		PrincipalApplied:     e.PrincipalApplied,
		InterestApplied:      e.InterestApplied,
		PenaltyApplied:       e.PenaltyApplied,
		PaymentMethod:        string(e.PaymentMethod),
		TransactionReference: e.TransactionReference,
		IsLatePayment:        e.IsLatePayment,
		DaysLate:             e.DaysLate,
		Notes:                e.Notes,
	}
}

// RecordPayment записывает платёж по займу от имени текущего администратора.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	loanID := chi.URLParam(r, "loanID")

	var req recordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var paymentDate time.Time
	if req.PaymentDate != "" {
		var err error
		paymentDate, err = time.Parse(time.RFC3339, req.PaymentDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: string(validation.CodeMissingRequiredField),
				Field: "paymentDate",
			})
			return
		}
	}

	entry, err := h.service.RecordPayment(r.Context(), loanID, actorID, service.ProposedPayment{
		PaymentDate:          paymentDate,
		AmountPaid:           req.AmountPaid,
		PrincipalApplied:     req.PrincipalApplied,
		InterestApplied:      req.InterestApplied,
		PenaltyApplied:       req.PenaltyApplied,
		PaymentMethod:        model.PaymentMethod(req.PaymentMethod),
		TransactionReference: req.TransactionReference,
		Notes:                req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentEntryResponse(entry))
}

// ListPayments возвращает записи платежей займа, новые первыми.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanID")

	entries, err := h.service.ListPayments(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toPaymentEntryResponse(&entries[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type accountResponse struct {
	LoanID               string `json:"loan_id"`
	OutstandingPrincipal int64  `json:"outstanding_principal"`
	OutstandingInterest  int64  `json:"outstanding_interest"`
	TotalPenaltyAccrued  int64  `json:"total_penalty_accrued"`
	LastPaymentAt        string `json:"last_payment_at,omitempty"`
}

// GetAccount возвращает текущее состояние счёта займа.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanID")

	view, err := h.service.Account(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := accountResponse{
		LoanID:               view.LoanID,
		OutstandingPrincipal: view.OutstandingPrincipal,
		OutstandingInterest:  view.OutstandingInterest,
		TotalPenaltyAccrued:  view.TotalPenaltyAccrued,
	}
	if view.LastPaymentAt != nil {
		resp.LastPaymentAt = view.LastPaymentAt.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

type notificationResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Message        string `json:"message"`
	LoanID         string `json:"loan_id,omitempty"`
	PaymentEntryID string `json:"payment_entry_id,omitempty"`
	IsRead         bool   `json:"is_read"`
	CreatedAt      string `json:"created_at"`
}

// GetNotifications возвращает уведомления текущего субъекта, новые первыми.
func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	notifications, err := h.service.Notifications(r.Context(), actorID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if len(notifications) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:             n.ID,
			Type:           string(n.Type),
			Message:        n.Message,
			LoanID:         n.LoanID,
			PaymentEntryID: n.PaymentEntryID,
			IsRead:         n.IsRead,
			CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type markReadRequest struct {
	IsRead *bool `json:"is_read"`
}

// MarkNotificationRead переключает признак прочтения уведомления.
// Пустое тело запроса трактуется как пометка прочитанным.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationID")

	isRead := true
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.IsRead != nil {
		isRead = *req.IsRead
	}

	if err := h.service.SetNotificationRead(r.Context(), id, isRead); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Healthz — проба живости сервиса.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
