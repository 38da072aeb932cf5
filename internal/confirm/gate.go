// Package confirm реализует шаг подтверждения перед необратимыми действиями над сделкой.
package confirm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrTicketNotFound возвращается, если запрос на подтверждение не найден, уже закрыт или истёк.
var ErrTicketNotFound = errors.New("confirmation ticket not found")

const (
	defaultTTL  = 5 * time.Minute
	defaultSize = 10000
)

// Ticket описывает открытый запрос на подтверждение.
type Ticket struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pending[T any] struct {
	owner     string
	onConfirm func(ctx context.Context) (T, error)
}

// Gate хранит открытые запросы на подтверждение и вызывает действие не более одного раза.
type Gate[T any] struct {
	tickets *expirable.LRU[string, pending[T]]
	ttl     time.Duration
}

// NewGate создаёт шлюз подтверждений с указанным временем жизни запросов.
func NewGate[T any](ttl time.Duration, size int) *Gate[T] {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if size <= 0 {
		size = defaultSize
	}

	return &Gate[T]{
		tickets: expirable.NewLRU[string, pending[T]](size, nil, ttl),
		ttl:     ttl,
	}
}

// Request открывает запрос на подтверждение от имени владельца.
func (g *Gate[T]) Request(owner, message string, onConfirm func(ctx context.Context) (T, error)) Ticket {
	id := uuid.NewString()
	g.tickets.Add(id, pending[T]{owner: owner, onConfirm: onConfirm})

	return Ticket{
		ID:        id,
		Message:   message,
		ExpiresAt: time.Now().Add(g.ttl),
	}
}

// Resolve закрывает запрос. При согласии действие вызывается ровно один раз,
// при отказе запрос закрывается без вызова.
func (g *Gate[T]) Resolve(ctx context.Context, id, owner string, yes bool) (T, error) {
	var zero T

	p, ok := g.tickets.Peek(id)
	if !ok || p.owner != owner {
		return zero, ErrTicketNotFound
	}

	// Закрыть запрос может только один вызывающий.
	if !g.tickets.Remove(id) {
		return zero, ErrTicketNotFound
	}

	if !yes {
		return zero, nil
	}

	return p.onConfirm(ctx)
}

// Pending возвращает число открытых запросов.
func (g *Gate[T]) Pending() int {
	return g.tickets.Len()
}
