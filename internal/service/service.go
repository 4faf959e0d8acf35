// service содержит бизнес-логику rag-gateway: вход пользователя через
// внешнего провайдера идентификации, проверку и прозрачное обновление
// access-токенов, проксирование запросов к модели инференса.
//
// Основные аспекты:
//   - Сервис полностью stateless: токены нигде не сохраняются и не
//     кэшируются, единственная их копия живёт в запросе/ответе клиента.
//     Экземпляр Service безопасен для конкурентного использования.
//   - Апстримы подключаются через интерфейсы пакета clients; их сентинелы
//     переводятся здесь в таксономию сервиса, а транспорт маппит её на
//     HTTP-статусы (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"

	"github.com/pribylovaa/rag-gateway/internal/clients"
)

var (
	// ErrInvalidArgument — запрос некорректен по форме (пустой обязательный
	// параметр, неразборчивое тело). Транспорт: HTTP 400.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidCredentials — пара логин/пароль отклонена провайдером
	// идентификации. Транспорт: HTTP 401 (invalid_credentials).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenExpired — access-токен истёк, а восстановление по refresh-токену
	// невозможно (нет refresh, либо провайдер его отклонил).
	// Транспорт: HTTP 401 (token_expired).
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid — access-токен отклонён провайдером, но не по причине
	// истечения (неразборчив, отозван, чужая подпись).
	// Транспорт: HTTP 401 (token_invalid).
	ErrTokenInvalid = errors.New("token invalid")

	// ErrPermissionDenied — субъект аутентифицирован, но провайдер отказал
	// в доступе. Транспорт: HTTP 403.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUpstreamUnavailable — апстрим (провайдер или модель) недоступен.
	// Транспорт: HTTP 503.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout — апстрим не ответил за отведённый срок.
	// Транспорт: HTTP 504.
	ErrUpstreamTimeout = errors.New("upstream timeout")
)

// Service описывает бизнес-логику шлюза.
type Service struct {
	idp       clients.Identity
	inference clients.Inference
}

// New создаёт новый экземпляр Service.
func New(idp clients.Identity, inference clients.Inference) *Service {
	return &Service{
		idp:       idp,
		inference: inference,
	}
}

// mapUpstream переводит инфраструктурные сентинелы clients в таксономию
// сервиса. clients.ErrUnauthenticated намеренно не переводится: его смысл
// зависит от операции, вызывающие обрабатывают его до mapUpstream.
func mapUpstream(err error) error {
	switch {
	case errors.Is(err, clients.ErrPermissionDenied):
		return ErrPermissionDenied
	case errors.Is(err, clients.ErrTimeout):
		return ErrUpstreamTimeout
	case errors.Is(err, clients.ErrUnavailable):
		return ErrUpstreamUnavailable
	}

	return err
}
