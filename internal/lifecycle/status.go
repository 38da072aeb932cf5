// Package lifecycle описывает жизненный цикл сделки: словарь статусов,
// операции переходов и выбор единственного элемента интерфейса для пользователя.
package lifecycle

// Status описывает статус сделки из словаря бэкенда.
type Status string

const (
	StatusUnknown           Status = ""
	StatusDraft             Status = "draft"
	StatusSuggested         Status = "suggested"
	StatusAccepted          Status = "accepted"
	StatusRejected          Status = "rejected"
	StatusDropped           Status = "dropped"
	StatusRequestForTerms   Status = "request_for_terms"
	StatusWaitingForPayment Status = "waiting_for_payment"
	StatusPaymentMade       Status = "payment_made"
	StatusPaymentOfInvoice  Status = "payment_of_invoice"
	StatusReturnSent        Status = "return_sent"
	StatusReturn            Status = "return"
	StatusCompleted         Status = "completed"
)

// Statuses перечисляет все известные статусы в порядке жизненного цикла.
var Statuses = []Status{
	StatusDraft,
	StatusSuggested,
	StatusAccepted,
	StatusRequestForTerms,
	StatusWaitingForPayment,
	StatusPaymentMade,
	StatusPaymentOfInvoice,
	StatusReturnSent,
	StatusCompleted,
	StatusReturn,
	StatusRejected,
	StatusDropped,
}

// ParseStatus переводит строку бэкенда в Status. Неизвестные строки дают StatusUnknown.
func ParseStatus(s string) Status {
	switch st := Status(s); st {
	case StatusDraft, StatusSuggested, StatusAccepted, StatusRejected, StatusDropped,
		StatusRequestForTerms, StatusWaitingForPayment, StatusPaymentMade,
		StatusPaymentOfInvoice, StatusReturnSent, StatusReturn, StatusCompleted:
		return st
	}
	return StatusUnknown
}

// Terminal сообщает, является ли статус конечным.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusReturn, StatusRejected, StatusDropped:
		return true
	}
	return false
}
