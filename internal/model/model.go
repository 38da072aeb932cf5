// Package model содержит доменные сущности сервиса сделок remitdesk.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side описывает сторону, от имени которой пользователь работает с порталом.
type Side string

const (
	SideClient Side = "client"
	SideAgent  Side = "agent"
	SideAdmin  Side = "admin"
)

// Role описывает роль пользователя внутри компании.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Viewer описывает пользователя, просматривающего сделку. Не сохраняется, выводится из сессии.
type Viewer struct {
	UserID string
	Side   Side
	Role   Role
}

// Actionable сообщает, может ли пользователь выполнять действия, меняющие состояние сделки.
func (v Viewer) Actionable() bool {
	switch v.Role {
	case RoleOwner, RoleAdmin, RoleEditor:
		return true
	}
	return false
}

// Session содержит данные сессии, передаваемые в сервис явно.
type Session struct {
	AccessToken string
	Viewer      Viewer
}

// AgentCompany описывает компанию агента, обслуживающую сделку.
type AgentCompany struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AgentCompanyAccount описывает счёт компании агента, с которого оплачивается инвойс.
type AgentCompanyAccount struct {
	ID       string `json:"id"`
	Bank     string `json:"bank"`
	Number   string `json:"number"`
	Currency string `json:"currency"`
}

// Party описывает отправителя или получателя перевода.
type Party struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
}

// Deal описывает сделку по переводу средств и её жизненный цикл.
type Deal struct {
	ID      string    `json:"id"`
	Status  string    `json:"status"`
	Created time.Time `json:"created"`

	AcceptedAt       *time.Time `json:"accepted_at"`
	TermsSubmittedAt *time.Time `json:"terms_submitted_at"`
	FundReceivedAt   *time.Time `json:"fund_received_at"`

	SendAmount      decimal.Decimal `json:"send_amount"`
	SendCurrency    string          `json:"send_currency"`
	ReceiveAmount   decimal.Decimal `json:"receive_amount"`
	ReceiveCurrency string          `json:"receive_currency"`
	Rate            decimal.Decimal `json:"rate"`
	TermsValidUntil *time.Time      `json:"terms_valid_until,omitempty"`

	Sender    *Party `json:"sender,omitempty"`
	Recipient *Party `json:"recipient,omitempty"`

	AgentCompany        *AgentCompany        `json:"agent_company,omitempty"`
	AgentCompanyAccount *AgentCompanyAccount `json:"agent_company_account,omitempty"`

	Files []string `json:"files,omitempty"`
}

// DealMessage описывает сообщение в чате сделки.
type DealMessage struct {
	ID          string    `json:"id"`
	DealID      string    `json:"deal_id"`
	AuthorSide  Side      `json:"author_side"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments,omitempty"`
	Created     time.Time `json:"created"`
}

// Transition описывает запись журнала подтверждённых действий над сделкой.
type Transition struct {
	ID        int64     `json:"id"`
	DealID    string    `json:"deal_id"`
	Action    string    `json:"action"`
	Side      Side      `json:"side"`
	UserID    string    `json:"user_id"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Результаты выполнения действия в журнале.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
