package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/remitdesk/internal/lifecycle"
	"github.com/mmeshcher/remitdesk/internal/validation"
)

type emptyForm struct{}

type noteForm struct {
	Message string `json:"message,omitempty" validate:"max=1000"`
}

type reasonForm struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// TermsForm описывает условия, которые агент предлагает по сделке.
type TermsForm struct {
	Rate            decimal.Decimal `json:"rate" validate:"gt=0"`
	ReceiveAmount   decimal.Decimal `json:"receive_amount" validate:"gt=0"`
	ReceiveCurrency string          `json:"receive_currency" validate:"required,iso4217"`
	ValidUntil      time.Time       `json:"valid_until" validate:"required"`
	Message         string          `json:"message,omitempty" validate:"max=1000"`
}

// PaymentForm описывает подтверждение оплаты или получения средств.
type PaymentForm struct {
	Date  time.Time `json:"date" validate:"required"`
	Files []string  `json:"files,omitempty" validate:"max=10,dive,filename"`
}

// InvoiceForm описывает оплату инвойса со счёта компании агента.
type InvoiceForm struct {
	AgentCompanyAccountID string    `json:"agent_company_account_id" validate:"required"`
	PaidAt                time.Time `json:"paid_at" validate:"required"`
	Files                 []string  `json:"files,omitempty" validate:"max=10,dive,filename"`
}

// ReturnForm описывает возврат средств клиенту.
type ReturnForm struct {
	Reason string   `json:"reason" validate:"required,max=1000"`
	Files  []string `json:"files,omitempty" validate:"max=10,dive,filename"`
}

// MessageForm описывает новое сообщение в чате сделки.
type MessageForm struct {
	Text        string   `json:"text" validate:"required,max=4000"`
	Attachments []string `json:"attachments,omitempty" validate:"max=10,dive,filename"`
}

func newForm(op lifecycle.Operation) any {
	switch op {
	case lifecycle.OpAccept, lifecycle.OpAssign, lifecycle.OpCancel:
		return &noteForm{}
	case lifecycle.OpReject:
		return &reasonForm{}
	case lifecycle.OpPropose:
		return &TermsForm{}
	case lifecycle.OpMakePayment, lifecycle.OpReceiveFund:
		return &PaymentForm{}
	case lifecycle.OpPayInvoice:
		return &InvoiceForm{}
	case lifecycle.OpSendReturn:
		return &ReturnForm{}
	default:
		return &emptyForm{}
	}
}

// decodeForm разбирает и проверяет данные формы для операции.
func decodeForm(v *validation.Validator, op lifecycle.Operation, raw json.RawMessage, now time.Time) (any, error) {
	form := newForm(op)

	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(form); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	if err := v.Struct(form); err != nil {
		return nil, err
	}

	if t, ok := form.(*TermsForm); ok && !t.ValidUntil.After(now) {
		return nil, validation.FieldErrors{"valid_until": "must be in the future"}
	}

	return form, nil
}
