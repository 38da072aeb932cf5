package lifecycle

// Operation описывает мутацию сделки, выполняемую на стороне бэкенда.
type Operation string

const (
	OpPublish       Operation = "publish"
	OpCancel        Operation = "cancel"
	OpAccept        Operation = "accept"
	OpReject        Operation = "reject"
	OpApprove       Operation = "approve"
	OpPropose       Operation = "propose"
	OpAssign        Operation = "assign"
	OpMakePayment   Operation = "makePayment"
	OpReceiveFund   Operation = "receiveFund"
	OpPayInvoice    Operation = "payInvoice"
	OpSendReturn    Operation = "sendReturn"
	OpConfirmReturn Operation = "confirmReturn"
)

// OperationDef описывает операцию: эндпоинт бэкенда, текст подтверждения и ожидаемый статус.
// Next носит справочный характер: итоговый статус всегда сообщает бэкенд.
type OperationDef struct {
	Op      Operation
	Confirm string
	Next    Status
}

// Endpoint возвращает имя эндпоинта бэкенда для операции.
func (s OperationDef) Endpoint() string {
	return string(s.Op)
}

var operations = map[Operation]OperationDef{
	OpPublish:       {Op: OpPublish, Confirm: "Submit the deal to agents?", Next: StatusSuggested},
	OpCancel:        {Op: OpCancel, Confirm: "Cancel the deal? This cannot be undone.", Next: StatusDropped},
	OpAccept:        {Op: OpAccept, Confirm: "Accept the deal?", Next: StatusAccepted},
	OpReject:        {Op: OpReject, Confirm: "Reject the deal?", Next: StatusRejected},
	OpApprove:       {Op: OpApprove, Confirm: "Confirm the deal and request terms?", Next: StatusRequestForTerms},
	OpPropose:       {Op: OpPropose, Confirm: "Submit these terms?", Next: StatusRequestForTerms},
	OpAssign:        {Op: OpAssign, Confirm: "Accept the submitted terms?", Next: StatusWaitingForPayment},
	OpMakePayment:   {Op: OpMakePayment, Confirm: "Confirm that the payment has been made?", Next: StatusPaymentMade},
	OpReceiveFund:   {Op: OpReceiveFund, Confirm: "Confirm that the funds have been received?", Next: StatusPaymentMade},
	OpPayInvoice:    {Op: OpPayInvoice, Confirm: "Confirm that the invoice has been paid?", Next: StatusCompleted},
	OpSendReturn:    {Op: OpSendReturn, Confirm: "Confirm that the funds have been returned?", Next: StatusReturnSent},
	OpConfirmReturn: {Op: OpConfirmReturn, Confirm: "Confirm that the returned funds have arrived?", Next: StatusReturn},
}

// LookupOperation возвращает описание операции по имени.
func LookupOperation(name string) (OperationDef, bool) {
	def, ok := operations[Operation(name)]
	return def, ok
}

// Component описывает интерактивный элемент действия, отображаемый пользователю.
type Component string

const (
	ComponentSubmitDeal    Component = "submit_deal"
	ComponentReviewDeal    Component = "review_deal"
	ComponentConfirmDeal   Component = "confirm_deal"
	ComponentSubmitTerms   Component = "submit_terms"
	ComponentAssignTerms   Component = "assign_terms"
	ComponentMakePayment   Component = "make_payment"
	ComponentReceiveFund   Component = "receive_fund"
	ComponentSettleInvoice Component = "settle_invoice"
	ComponentConfirmReturn Component = "confirm_return"
)

var componentOperations = map[Component][]Operation{
	ComponentSubmitDeal:    {OpPublish, OpCancel},
	ComponentReviewDeal:    {OpAccept, OpReject},
	ComponentConfirmDeal:   {OpApprove},
	ComponentSubmitTerms:   {OpPropose},
	ComponentAssignTerms:   {OpAssign},
	ComponentMakePayment:   {OpMakePayment},
	ComponentReceiveFund:   {OpReceiveFund},
	ComponentSettleInvoice: {OpPayInvoice, OpSendReturn},
	ComponentConfirmReturn: {OpConfirmReturn},
}

// Operations возвращает операции, доступные из компонента.
func (c Component) Operations() []Operation {
	ops := componentOperations[c]
	out := make([]Operation, len(ops))
	copy(out, ops)
	return out
}

// Offers сообщает, предлагает ли компонент указанную операцию.
func (c Component) Offers(op Operation) bool {
	for _, o := range componentOperations[c] {
		if o == op {
			return true
		}
	}
	return false
}

// Banner описывает статичное информационное сообщение вместо действия.
type Banner string

const (
	BannerDraft                      Banner = "The deal is a draft and has not been submitted yet"
	BannerAwaitingReview             Banner = "The deal is waiting for an agent to review it"
	BannerAwaitingConfirmation       Banner = "The deal was accepted and is waiting for client confirmation"
	BannerAwaitingTerms              Banner = "Waiting for the agent to submit terms"
	BannerAwaitingTermsApproval      Banner = "Waiting for the client to approve the submitted terms"
	BannerAwaitingPayment            Banner = "Waiting for the client to make the payment"
	BannerAwaitingFundReceipt        Banner = "Waiting for the agent to confirm receipt of funds"
	BannerAwaitingInvoicePayment     Banner = "Awaiting invoice payment"
	BannerAwaitingReturnConfirmation Banner = "Waiting for the client to confirm the return"
	BannerCompleted                  Banner = "The deal is completed"
	BannerReturned                   Banner = "The funds were returned"
	BannerRejected                   Banner = "The deal was rejected"
	BannerDropped                    Banner = "The deal was cancelled"
)
