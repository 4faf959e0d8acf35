package middleware

import (
	"context"

	"github.com/pribylovaa/rag-gateway/internal/models"
)

type ctxKey int

const (
	ctxClaims ctxKey = iota
	ctxAccessToken
	ctxRequestID
)

// ClaimsInto кладёт claims аутентифицированного пользователя в контекст.
func ClaimsInto(ctx context.Context, c *models.Claims) context.Context {
	return context.WithValue(ctx, ctxClaims, c)
}

// ClaimsFrom достаёт claims из контекста запроса.
// ok == false означает, что запрос не проходил Authenticate.
func ClaimsFrom(ctx context.Context) (*models.Claims, bool) {
	c, ok := ctx.Value(ctxClaims).(*models.Claims)
	return c, ok && c != nil
}

// AccessTokenInto кладёт действующий access-токен запроса в контекст.
// После прозрачного обновления это уже НОВЫЙ токен, а не присланный клиентом.
func AccessTokenInto(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxAccessToken, token)
}

// AccessTokenFrom достаёт действующий access-токен из контекста.
func AccessTokenFrom(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(ctxAccessToken).(string)
	return t, ok && t != ""
}

// RequestIDInto кладёт идентификатор запроса в контекст.
func RequestIDInto(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

// RequestIDFrom достаёт идентификатор запроса из контекста.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxRequestID).(string)
	return id, ok && id != ""
}
