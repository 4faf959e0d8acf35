package models

import "time"

// TokenPair — пара токенов, выданная провайдером идентификации.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — секрет для выпуска новой пары; клиенту доставляется
//     только в HttpOnly-cookie и на сервере нигде не сохраняется;
//   - AccessExpiresAt / RefreshExpiresAt — моменты истечения (UTC),
//     вычисленные из expires_in / refresh_expires_in ответа провайдера.
type TokenPair struct {
	// AccessToken — JWT для авторизации запросов.
	AccessToken string
	// RefreshToken — секрет для обновления пары.
	RefreshToken string
	// AccessExpiresAt — время истечения действия access-токена (UTC).
	AccessExpiresAt time.Time
	// RefreshExpiresAt — время истечения действия refresh-токена (UTC).
	RefreshExpiresAt time.Time
}

// Claims — сведения о пользователе из userinfo-эндпоинта провайдера.
//
// Типизированы только поля, которыми пользуется сервис; полный ответ
// провайдера сохраняется в Raw как есть.
type Claims struct {
	// Subject — стабильный идентификатор пользователя (claim "sub").
	Subject string
	// Username — предпочитаемое имя входа (claim "preferred_username").
	Username string
	// Email — e-mail пользователя, если разрешён scope email.
	Email string
	// EmailVerified — признак подтверждённого e-mail.
	EmailVerified bool
	// Scope — выданные scope единой строкой.
	Scope string
	// Raw — полный набор claim'ов ответа userinfo.
	Raw map[string]any
}

// LoginResponse — тело ответа POST /login.
//
// Refresh-токен в тело не входит: он доставляется только в HttpOnly-cookie.
type LoginResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	AccessExpiresAt int64  `json:"access_expires_at"` // Unix UTC
}
