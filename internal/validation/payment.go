// Package validation содержит проверки входных данных реестра платежей.
package validation

import (
	"fmt"

	"github.com/lenddesk/loanledger/internal/model"
)

// Code классифицирует причину отклонения платежа.
type Code string

const (
	CodeNegativeAmount       Code = "NegativeAmount"
	CodeAmountMismatch       Code = "AmountMismatch"
	CodeInvalidPaymentMethod Code = "InvalidPaymentMethod"
	CodeMissingRequiredField Code = "MissingRequiredField"
)

// Error описывает нарушение с указанием поля, к которому оно относится.
type Error struct {
	Code  Code
	Field string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Field)
}

// ValidatePayment проверяет арифметическую и семантическую корректность
// предлагаемого платежа. Чистая функция: никакого ввода-вывода,
// суммы сравниваются точно в минимальных единицах валюты.
// Проверки выполняются по порядку, возвращается первое нарушение.
func ValidatePayment(p model.PaymentEntry) error {
	for _, f := range []struct {
		name  string
		value int64
	}{
		{"amountPaid", p.AmountPaid},
		{"principalApplied", p.PrincipalApplied},
		{"interestApplied", p.InterestApplied},
		{"penaltyApplied", p.PenaltyApplied},
	} {
		if f.value < 0 {
			return &Error{Code: CodeNegativeAmount, Field: f.name}
		}
	}

	if p.PrincipalApplied+p.InterestApplied+p.PenaltyApplied != p.AmountPaid {
		return &Error{Code: CodeAmountMismatch, Field: "amountPaid"}
	}

	if !model.KnownPaymentMethod(p.PaymentMethod) {
		return &Error{Code: CodeInvalidPaymentMethod, Field: "paymentMethod"}
	}

	for _, f := range []struct {
		name  string
		value string
	}{
		{"loanId", p.LoanID},
		{"borrowerId", p.BorrowerID},
		{"recordedByAdminId", p.RecordedByAdminID},
	} {
		if f.value == "" {
			return &Error{Code: CodeMissingRequiredField, Field: f.name}
		}
	}

	return nil
}
