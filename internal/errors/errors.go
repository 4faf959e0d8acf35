// errors стандартизирует ответы об ошибках HTTP-слоя rag-gateway.
// На вход он принимает ошибку (обычно обёрнутый сентинел пакета service),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей апстримов.
//
// Источник истинности по маппингу: комментарии к переменным ошибок
// в internal/service.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/rag-gateway/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// APIError — единый формат для фронта.
// Code — короткий стабильный код для машиночитаемой обработки на FE.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует ошибку сервиса в HTTP-статус и унифицированный ответ.
//
// Поведение:
//   - err == nil — это программная ошибка вызова: возвращаем 500/internal,
//     чтобы не послать "200 OK" с телом ошибки и не маскировать баг;
//   - сентинелы service маппятся по таблице ниже;
//   - context.Canceled -> 499 (клиент закрыл соединение),
//     context.DeadlineExceeded -> 504 (истёк общий таймаут запроса);
//   - прочее -> 500/internal (без утечки деталей).
//
// Таблица маппинга:
//   - ErrInvalidArgument     -> 400 invalid_argument
//   - ErrInvalidCredentials  -> 401 invalid_credentials
//   - ErrTokenExpired        -> 401 token_expired
//   - ErrTokenInvalid        -> 401 token_invalid
//   - ErrPermissionDenied    -> 403 permission_denied
//   - ErrUpstreamUnavailable -> 503 upstream_unavailable
//   - ErrUpstreamTimeout     -> 504 upstream_timeout
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := base(err)

	return status, ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	// Прокидываем request_id для фронта, чтобы он мог репортить баги с привязкой.
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func base(err error) (int, string, string) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, "internal", "internal error"
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case errors.Is(err, service.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired", "token expired"
	case errors.Is(err, service.ErrTokenInvalid):
		return http.StatusUnauthorized, "token_invalid", "token invalid"
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied", "permission denied"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "upstream_unavailable", "upstream unavailable"
	case errors.Is(err, service.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "upstream_timeout", "upstream timeout"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "canceled", "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "deadline_exceeded", "deadline exceeded"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
