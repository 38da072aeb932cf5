package lifecycle

import "github.com/mmeshcher/remitdesk/internal/model"

// Kind описывает вид результата выбора элемента интерфейса.
type Kind string

const (
	KindNone   Kind = "none"
	KindAction Kind = "action"
	KindBanner Kind = "banner"
)

// Outcome содержит ровно один из вариантов: компонент действия, баннер или ничего.
type Outcome struct {
	Kind      Kind
	Component Component
	Banner    Banner
}

// Offers сообщает, предлагает ли результат указанную операцию.
func (o Outcome) Offers(op Operation) bool {
	return o.Kind == KindAction && o.Component.Offers(op)
}

func nothing() Outcome          { return Outcome{Kind: KindNone} }
func show(b Banner) Outcome     { return Outcome{Kind: KindBanner, Banner: b} }
func offer(c Component) Outcome { return Outcome{Kind: KindAction, Component: c} }

func gate(v model.Viewer, c Component) Outcome {
	if !v.Actionable() {
		return nothing()
	}
	return offer(c)
}

// Dispatch выбирает элемент интерфейса для пользователя по статусу сделки и отметкам этапов.
// Неизвестный статус или сторона дают пустой результат.
func Dispatch(v model.Viewer, d model.Deal) Outcome {
	status := ParseStatus(d.Status)
	if status == StatusUnknown {
		return nothing()
	}

	switch v.Side {
	case model.SideClient:
		return dispatchClient(v, status, d)
	case model.SideAgent:
		return dispatchAgent(v, status, d)
	case model.SideAdmin:
		return dispatchAdmin(status, d)
	}
	return nothing()
}

func dispatchClient(v model.Viewer, status Status, d model.Deal) Outcome {
	switch status {
	case StatusDraft:
		return gate(v, ComponentSubmitDeal)
	case StatusSuggested:
		return show(BannerAwaitingReview)
	case StatusAccepted:
		return gate(v, ComponentConfirmDeal)
	case StatusRequestForTerms:
		if d.TermsSubmittedAt == nil {
			return show(BannerAwaitingTerms)
		}
		return gate(v, ComponentAssignTerms)
	case StatusWaitingForPayment:
		return gate(v, ComponentMakePayment)
	case StatusPaymentMade:
		if d.FundReceivedAt == nil {
			return show(BannerAwaitingFundReceipt)
		}
		return show(BannerAwaitingInvoicePayment)
	case StatusPaymentOfInvoice:
		return show(BannerAwaitingInvoicePayment)
	case StatusReturnSent:
		return gate(v, ComponentConfirmReturn)
	case StatusCompleted, StatusReturn, StatusRejected, StatusDropped:
		return show(terminalBanner(status))
	}
	return nothing()
}

func dispatchAgent(v model.Viewer, status Status, d model.Deal) Outcome {
	switch status {
	case StatusDraft, StatusAccepted:
		return nothing()
	case StatusSuggested:
		return gate(v, ComponentReviewDeal)
	case StatusRequestForTerms:
		if d.TermsSubmittedAt == nil {
			return gate(v, ComponentSubmitTerms)
		}
		return show(BannerAwaitingTermsApproval)
	case StatusWaitingForPayment:
		return show(BannerAwaitingPayment)
	case StatusPaymentMade:
		if d.FundReceivedAt == nil {
			return gate(v, ComponentReceiveFund)
		}
		return nothing()
	case StatusPaymentOfInvoice:
		if d.FundReceivedAt == nil {
			return nothing()
		}
		return gate(v, ComponentSettleInvoice)
	case StatusReturnSent:
		return show(BannerAwaitingReturnConfirmation)
	case StatusCompleted, StatusReturn, StatusRejected, StatusDropped:
		return show(terminalBanner(status))
	}
	return nothing()
}

// Администратор видит только информационные баннеры.
func dispatchAdmin(status Status, d model.Deal) Outcome {
	switch status {
	case StatusDraft:
		return show(BannerDraft)
	case StatusSuggested:
		return show(BannerAwaitingReview)
	case StatusAccepted:
		return show(BannerAwaitingConfirmation)
	case StatusRequestForTerms:
		if d.TermsSubmittedAt == nil {
			return show(BannerAwaitingTerms)
		}
		return show(BannerAwaitingTermsApproval)
	case StatusWaitingForPayment:
		return show(BannerAwaitingPayment)
	case StatusPaymentMade:
		if d.FundReceivedAt == nil {
			return show(BannerAwaitingFundReceipt)
		}
		return show(BannerAwaitingInvoicePayment)
	case StatusPaymentOfInvoice:
		return show(BannerAwaitingInvoicePayment)
	case StatusReturnSent:
		return show(BannerAwaitingReturnConfirmation)
	case StatusCompleted, StatusReturn, StatusRejected, StatusDropped:
		return show(terminalBanner(status))
	}
	return nothing()
}

func terminalBanner(status Status) Banner {
	switch status {
	case StatusCompleted:
		return BannerCompleted
	case StatusReturn:
		return BannerReturned
	case StatusRejected:
		return BannerRejected
	default:
		return BannerDropped
	}
}
