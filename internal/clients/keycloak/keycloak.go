// keycloak реализует clients.Identity поверх REST-эндпоинтов Keycloak
// (OpenID Connect): password grant, refresh grant и userinfo.
//
// Ошибки транспорта и HTTP-статусы переводятся в сентинелы пакета clients:
//   - 400/401 token-эндпоинта и 401 userinfo -> ErrUnauthenticated;
//   - 403 -> ErrPermissionDenied;
//   - таймаут -> ErrTimeout;
//   - ошибка соединения и 5xx -> ErrUnavailable.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pribylovaa/rag-gateway/internal/clients"
	"github.com/pribylovaa/rag-gateway/internal/config"
	"github.com/pribylovaa/rag-gateway/internal/models"
	"github.com/pribylovaa/rag-gateway/internal/pkg/log"
)

// Client — HTTP-клиент провайдера идентификации.
type Client struct {
	cfg         config.KeycloakConfig
	http        *http.Client
	tokenURL    string
	userinfoURL string
}

// New создаёт клиент по конфигурации; эндпоинты realm'а вычисляются один раз.
func New(cfg config.KeycloakConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	realm := base + "/realms/" + url.PathEscape(cfg.Realm) + "/protocol/openid-connect"

	return &Client{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		tokenURL:    realm + "/token",
		userinfoURL: realm + "/userinfo",
	}
}

// tokenResponse — тело ответа token-эндпоинта.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
}

// Login обменивает логин/пароль на пару токенов (password grant).
func (c *Client) Login(ctx context.Context, username, password string) (*models.TokenPair, error) {
	const op = "clients.keycloak.Login"

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.cfg.ClientID},
		"username":   {username},
		"password":   {password},
		"scope":      {c.cfg.Scope},
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	return c.token(ctx, op, form)
}

// Refresh обменивает refresh-токен на новую пару (refresh grant).
// Ровно одна попытка, без ретраев.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "clients.keycloak.Refresh"

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {c.cfg.ClientID},
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	return c.token(ctx, op, form)
}

// token выполняет POST на token-эндпоинт и разбирает ответ в пару токенов.
func (c *Client) token(ctx context.Context, op string, form url.Values) (*models.TokenPair, error) {
	lg := log.From(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: new_request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		lg.Warn("idp_request_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized:
		// invalid_grant: неверные учётные данные или протухший refresh.
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: %w", op, clients.ErrUnauthenticated)
	case resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: %w", op, clients.ErrPermissionDenied)
	default:
		io.Copy(io.Discard, resp.Body)
		lg.Warn("idp_unexpected_status",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%s: status=%d: %w", op, resp.StatusCode, clients.ErrUnavailable)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%s: empty access_token in response", op)
	}

	now := time.Now().UTC()

	return &models.TokenPair{
		AccessToken:      tr.AccessToken,
		RefreshToken:     tr.RefreshToken,
		AccessExpiresAt:  now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		RefreshExpiresAt: now.Add(time.Duration(tr.RefreshExpiresIn) * time.Second),
	}, nil
}

// UserInfo проверяет access-токен через userinfo-эндпоинт.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*models.Claims, error) {
	const op = "clients.keycloak.UserInfo"

	lg := log.From(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: new_request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		lg.Warn("idp_request_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: %w", op, clients.ErrUnauthenticated)
	case resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%s: %w", op, clients.ErrPermissionDenied)
	default:
		io.Copy(io.Discard, resp.Body)
		lg.Warn("idp_unexpected_status",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%s: status=%d: %w", op, resp.StatusCode, clients.ErrUnavailable)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	return claimsFromRaw(raw), nil
}

// claimsFromRaw извлекает типизированные поля из ответа userinfo,
// сохраняя полный набор claim'ов в Raw.
func claimsFromRaw(raw map[string]any) *models.Claims {
	c := &models.Claims{Raw: raw}

	if v, ok := raw["sub"].(string); ok {
		c.Subject = v
	}
	if v, ok := raw["preferred_username"].(string); ok {
		c.Username = v
	}
	if v, ok := raw["email"].(string); ok {
		c.Email = v
	}
	if v, ok := raw["email_verified"].(bool); ok {
		c.EmailVerified = v
	}
	if v, ok := raw["scope"].(string); ok {
		c.Scope = v
	}

	return c
}

// classify переводит ошибку http.Client в сентинел пакета clients.
// Отмена контекста вызывающей стороной сентинелом не считается и
// пробрасывается как context.Canceled.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return clients.ErrTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return clients.ErrTimeout
	}

	return clients.ErrUnavailable
}
