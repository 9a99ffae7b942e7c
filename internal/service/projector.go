package service

import (
	"context"
	"errors"
	"sync"

	"github.com/lenddesk/loanledger/internal/model"
	"github.com/lenddesk/loanledger/internal/repository"
)

// FoldAccount сворачивает записи платежей займа (старые первыми) относительно
// исходных условий в текущее состояние счёта. Реестр — источник истины:
// результат свёртки полностью заменяет любое закешированное представление.
func FoldAccount(loan *model.Loan, entries []model.PaymentEntry) model.LoanAccountView {
	view := model.LoanAccountView{
		LoanID:               loan.ID,
		OutstandingPrincipal: loan.PrincipalTotal,
		OutstandingInterest:  loan.InterestTotal,
	}
	for i := range entries {
		view = applyEntry(view, &entries[i])
	}
	return view
}

// applyEntry применяет одну запись платежа к состоянию счёта.
// Инкрементальное применение и полная свёртка обязаны давать одинаковый результат.
func applyEntry(view model.LoanAccountView, e *model.PaymentEntry) model.LoanAccountView {
	view.OutstandingPrincipal -= e.PrincipalApplied
	if view.OutstandingPrincipal < 0 {
		view.OutstandingPrincipal = 0
	}

	view.OutstandingInterest -= e.InterestApplied
	if view.OutstandingInterest < 0 {
		view.OutstandingInterest = 0
	}

	view.TotalPenaltyAccrued += e.PenaltyApplied

	at := e.RecordedAt
	if view.LastPaymentAt == nil || at.After(*view.LastPaymentAt) {
		view.LastPaymentAt = &at
	}

	return view
}

// Projector строит представление счёта займа из реестра платежей
// и кеширует результат до инвалидации.
type Projector struct {
	repo Repository

	mu    sync.Mutex
	cache map[string]model.LoanAccountView
}

// NewProjector создаёт проектор поверх указанного репозитория.
func NewProjector(repo Repository) *Projector {
	return &Projector{
		repo:  repo,
		cache: make(map[string]model.LoanAccountView),
	}
}

// Project возвращает текущее состояние счёта займа, пересчитывая его из
// полного реестра при отсутствии в кеше. Номер версии берётся из строки счёта.
func (p *Projector) Project(ctx context.Context, loanID string) (*model.LoanAccountView, error) {
	p.mu.Lock()
	if v, ok := p.cache[loanID]; ok {
		p.mu.Unlock()
		return &v, nil
	}
	p.mu.Unlock()

	loan, err := p.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	entries, err := p.repo.GetPaymentsByLoanChronological(ctx, loanID)
	if err != nil {
		return nil, err
	}

	view := FoldAccount(loan, entries)

	row, err := p.repo.GetAccountView(ctx, loanID)
	switch {
	case err == nil:
		view.Version = row.Version
	case errors.Is(err, repository.ErrAccountNotFound):
		// Строки счёта ещё нет: версия остаётся нулевой.
	default:
		return nil, err
	}

	p.mu.Lock()
	p.cache[loanID] = view
	p.mu.Unlock()

	return &view, nil
}

// Invalidate сбрасывает закешированное представление займа.
func (p *Projector) Invalidate(loanID string) {
	p.mu.Lock()
	delete(p.cache, loanID)
	p.mu.Unlock()
}
