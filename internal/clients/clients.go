// clients задаёт контракты работы с внешними апстримами шлюза:
// провайдером идентификации (Keycloak) и API инференса.
//
// Реализации живут в подпакетах (clients/keycloak, clients/inference) и
// обязаны переводить транспортные ошибки в сентинелы этого пакета; слой
// service сопоставляет их со своей таксономией, не зная о HTTP-кодах
// апстримов.
package clients

import (
	"context"
	"errors"

	"github.com/pribylovaa/rag-gateway/internal/models"
)

var (
	// ErrUnauthenticated — апстрим отклонил предъявленные учётные данные
	// или токен (неверный логин/пароль, протухший или отозванный токен).
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied — апстрим отказал в доступе аутентифицированному
	// субъекту (нет прав на ресурс).
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable — апстрим недоступен (ошибка соединения или 5xx).
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrTimeout — апстрим не ответил за отведённый срок.
	ErrTimeout = errors.New("upstream timeout")
)

// Identity выполняет операции против провайдера идентификации.
type Identity interface {
	// Login обменивает логин/пароль на пару токенов (password grant).
	Login(ctx context.Context, username, password string) (*models.TokenPair, error)
	// Refresh обменивает refresh-токен на новую пару токенов.
	// Ровно одна попытка; ретраи на этом уровне запрещены.
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	// UserInfo проверяет access-токен через userinfo-эндпоинт и возвращает
	// сведения о пользователе.
	UserInfo(ctx context.Context, accessToken string) (*models.Claims, error)
}

// Inference выполняет операции против API инференса.
type Inference interface {
	// Predict выполняет синхронное предсказание по входному тексту.
	Predict(ctx context.Context, input string) (*models.Prediction, error)
	// Generate запускает потоковую генерацию. Канал закрывается по
	// завершении потока; ошибка среди событий терминальна.
	Generate(ctx context.Context, input string, params map[string]any) (<-chan models.GenerateEvent, error)
}
