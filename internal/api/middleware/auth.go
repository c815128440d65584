// auth.go — JWT аутентификация агентов провайдеров.
// Агент подписывает короткоживущий HS256 токен общим секретом, sub — адрес
// провайдера. Координатор проверяет токен до websocket upgrade и помещает
// адрес в контекст запроса. Пустой секрет отключает проверку.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/storagemarket/internal/api/errors"
	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyProvider — адрес провайдера из проверенного токена.
const ContextKeyProvider contextKey = "provider_address"

// ProviderTokenTTL — время жизни токена агента.
const ProviderTokenTTL = 5 * time.Minute

// defaultLeeway — допустимое расхождение часов агента и координатора.
const defaultLeeway = 30 * time.Second

// ErrMissingToken — запрос без Bearer токена.
var ErrMissingToken = errors.New("отсутствует Bearer token")

// IssueProviderToken подписывает токен агента: sub = адрес провайдера, exp = now + ttl.
func IssueProviderToken(secret, providerAddress string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   model.NormalizeAddress(providerAddress),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ProviderAuth — проверка токенов агентов.
type ProviderAuth struct {
	secret []byte
	leeway time.Duration
	logger *slog.Logger
}

// NewProviderAuth создаёт проверку токенов. Пустой secret — проверка отключена.
func NewProviderAuth(secret string, logger *slog.Logger) *ProviderAuth {
	return &ProviderAuth{
		secret: []byte(secret),
		leeway: defaultLeeway,
		logger: logger.With(slog.String("component", "provider_auth")),
	}
}

// Enabled сообщает, включена ли проверка токенов.
func (a *ProviderAuth) Enabled() bool {
	return len(a.secret) > 0
}

// Verify проверяет Bearer токен запроса и возвращает адрес провайдера (sub).
func (a *ProviderAuth) Verify(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("неверный формат Authorization: ожидается Bearer <token>")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("невалидный токен")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("отсутствует sub в токене")
	}
	return model.NormalizeAddress(subject), nil
}

// Middleware возвращает HTTP middleware аутентификации агентов.
// При отключённой проверке пропускает запрос без изменений.
func (a *ProviderAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			provider, err := a.Verify(r)
			if err != nil {
				a.logger.Debug("JWT агента не прошёл проверку",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен агента")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyProvider, provider)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProviderFromContext возвращает адрес провайдера из проверенного токена.
// ok = false, если проверка отключена или не выполнялась.
func ProviderFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyProvider).(string)
	return v, ok && v != ""
}
