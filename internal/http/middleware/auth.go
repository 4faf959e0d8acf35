package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pribylovaa/rag-gateway/internal/config"
	apierrors "github.com/pribylovaa/rag-gateway/internal/errors"
	"github.com/pribylovaa/rag-gateway/internal/service"
)

// Authenticator — контракт проверки доступа; реализуется *service.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, refreshToken string) (*service.AuthResult, error)
}

// Authenticate закрывает маршрут проверкой bearer-токена.
//
// Порядок:
//  1. извлекаем токен из Authorization: Bearer <t>; отсутствие или мусор —
//     немедленный 401 без походов к провайдеру;
//  2. refresh-токен берём из cookie (cfg.CookieName), если она есть;
//  3. auth.Authenticate решает судьбу запроса; при прозрачном обновлении
//     (Rotated != nil) до вызова обработчика в ответ ставятся новая
//     refresh-cookie и заголовок Authorization с новым access-токеном;
//  4. claims и действующий access-токен кладутся в контекст запроса
//     (ClaimsFrom/AccessTokenFrom).
//
// Сервер не сохраняет ни одной копии токенов: всё состояние сессии живёт
// на стороне клиента и провайдера идентификации.
func Authenticate(auth Authenticator, cfg config.AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				apierrors.WriteError(w, r, service.ErrTokenInvalid)
				return
			}

			var refresh string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				refresh = c.Value
			}

			res, err := auth.Authenticate(r.Context(), token, refresh)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			access := token
			if res.Rotated != nil {
				access = res.Rotated.AccessToken
				SetRefreshCookie(w, cfg, res.Rotated.RefreshToken)
				w.Header().Set("Authorization", "Bearer "+access)
			}

			ctx := ClaimsInto(r.Context(), res.Claims)
			ctx = AccessTokenInto(ctx, access)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken извлекает токен из Authorization: Bearer <t>.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}

	token := strings.TrimSpace(auth[len(prefix):])
	if token == "" {
		return "", false
	}

	return token, true
}

// SetRefreshCookie ставит HttpOnly-cookie с refresh-токеном.
// Используется мидлваром при ротации и хендлером /login при входе.
func SetRefreshCookie(w http.ResponseWriter, cfg config.AuthConfig, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.CookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}
