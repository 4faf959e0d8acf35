package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pribylovaa/rag-gateway/internal/clients"
	"github.com/pribylovaa/rag-gateway/internal/models"
	"github.com/pribylovaa/rag-gateway/internal/pkg/log"
	"github.com/pribylovaa/rag-gateway/internal/pkg/redact"
)

// AuthResult — результат проверки доступа.
//
// Rotated != nil означает, что access-токен истёк и был прозрачно обновлён
// по refresh-токену: транспорт обязан доставить новую пару клиенту
// (Set-Cookie с refresh-токеном и заголовок Authorization с новым access).
// Обновление — явная часть результата, а не скрытый побочный эффект;
// сервер новую пару нигде не сохраняет.
type AuthResult struct {
	Claims  *models.Claims
	Rotated *models.TokenPair
}

// Login выполняет вход по логину и паролю через провайдера идентификации.
func (s *Service) Login(ctx context.Context, username, password string) (*models.TokenPair, error) {
	const op = "service.auth.Login"

	lg := log.From(ctx)

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := s.idp.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, clients.ErrUnauthenticated) {
			lg.Info("login_rejected",
				slog.String("username", redact.Username(username)),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, mapUpstream(err))
	}

	lg.Info("login_ok",
		slog.String("username", redact.Username(username)),
	)

	return pair, nil
}

// Authenticate проверяет access-токен через провайдера идентификации и при
// необходимости прозрачно обновляет его по refresh-токену.
//
// Сценарии:
//   - токен принят -> {Claims, Rotated: nil};
//   - токен отклонён и не является истёкшим JWT -> ErrTokenInvalid;
//   - токен истёк, refresh-токена нет -> ErrTokenExpired;
//   - токен истёк, refresh есть -> ровно ОДНА попытка обновления;
//     отказ провайдера -> ErrTokenExpired, успех -> {Claims, Rotated}.
//
// Подпись токена локально не проверяется: незаверенный разбор exp служит
// только для различения «истёк»/«невалиден», финальное слово — за
// провайдером (userinfo нового access-токена).
func (s *Service) Authenticate(ctx context.Context, accessToken, refreshToken string) (*AuthResult, error) {
	const op = "service.auth.Authenticate"

	lg := log.From(ctx)

	if accessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	claims, err := s.idp.UserInfo(ctx, accessToken)
	if err == nil {
		return &AuthResult{Claims: claims}, nil
	}

	if !errors.Is(err, clients.ErrUnauthenticated) {
		return nil, fmt.Errorf("%s: %w", op, mapUpstream(err))
	}

	expired, perr := isExpired(accessToken, time.Now().UTC())
	if perr != nil || !expired {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
	}

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	pair, err := s.idp.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, clients.ErrUnauthenticated) {
			lg.Info("token_refresh_rejected")
			return nil, fmt.Errorf("%s: %w", op, ErrTokenExpired)
		}

		return nil, fmt.Errorf("%s: %w", op, mapUpstream(err))
	}

	claims, err = s.idp.UserInfo(ctx, pair.AccessToken)
	if err != nil {
		if errors.Is(err, clients.ErrUnauthenticated) {
			return nil, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}

		return nil, fmt.Errorf("%s: %w", op, mapUpstream(err))
	}

	lg.Info("token_refreshed",
		slog.String("sub", claims.Subject),
	)

	return &AuthResult{Claims: claims, Rotated: pair}, nil
}

// isExpired разбирает access-токен без проверки подписи и сообщает, истёк
// ли его exp к моменту now. Ошибка означает, что строка не является JWT
// либо не содержит пригодного exp.
func isExpired(token string, now time.Time) (bool, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false, err
	}
	if exp == nil {
		return false, errors.New("exp claim missing")
	}

	return exp.Before(now), nil
}
