// Package middleware содержит HTTP middleware для сервиса сделок.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/remitdesk/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

var errInvalidToken = errors.New("invalid token")

// Claims описывает утверждения токена сессии портала.
type Claims struct {
	Side string `json:"side"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет bearer-токен сессии и кладёт сессию в контекст запроса.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет сессию в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		viewer, err := a.parseToken(token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := WithSession(r.Context(), model.Session{AccessToken: token, Viewer: viewer})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Sign выпускает токен сессии для пользователя.
func (a *AuthMiddleware) Sign(v model.Viewer, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Side: string(v.Side),
		Role: string(v.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   v.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
}

func (a *AuthMiddleware) parseToken(raw string) (model.Viewer, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return model.Viewer{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return model.Viewer{}, errInvalidToken
	}

	v := model.Viewer{
		UserID: claims.Subject,
		Side:   model.Side(claims.Side),
		Role:   model.Role(claims.Role),
	}

	switch v.Side {
	case model.SideClient, model.SideAdmin:
		// У клиента и администратора нет ролей внутри компании.
		if v.Role == "" {
			v.Role = model.RoleOwner
		}
	case model.SideAgent:
	default:
		return model.Viewer{}, fmt.Errorf("%w: unknown side %q", errInvalidToken, claims.Side)
	}

	return v, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithSession возвращает контекст с сессией пользователя.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext извлекает сессию пользователя из контекста запроса.
func SessionFromContext(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}
