package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/rag-gateway/internal/config"
	"github.com/pribylovaa/rag-gateway/internal/http/handlers"
	"github.com/pribylovaa/rag-gateway/internal/http/middleware"
	"github.com/pribylovaa/rag-gateway/internal/service"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger   *slog.Logger
	Timeout  time.Duration
	BasePath string              // например, "/api"; если пустой — роуты регистрируются на корне.
	Metrics  *middleware.Metrics // необязательный сборщик HTTP-метрик
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, authCfg config.AuthConfig, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
	)
	if opts.Metrics != nil {
		root.Use(opts.Metrics.Middleware())
	}
	root.Use(middleware.CORS()) // фронт живёт на другом origin и читает Authorization из ответа

	// Зависимости хендлеров.
	h := handlers.New(svc, authCfg)
	auth := middleware.Authenticate(svc, authCfg)

	// Регистрация маршрутов.
	if opts.BasePath != "" {
		sub := chi.NewRouter()
		registerRoutes(sub, h, auth, opts.Timeout)
		root.Mount(opts.BasePath, sub)
		return root
	}

	registerRoutes(root, h, auth, opts.Timeout)
	return root
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, auth middleware.Middleware, timeout time.Duration) {
	// публичный
	withTimeout(r, timeout).Post("/login", h.Login)

	// inference — только с валидным (или прозрачно обновлённым) токеном
	r.Group(func(pr chi.Router) {
		pr.Use(auth)
		withTimeout(pr, timeout).Post("/predict", h.Predict)
		// /generate стримит дольше общего дедлайна, поэтому без Timeout:
		// временем жизни управляет сам клиент через разрыв соединения.
		pr.Post("/generate", h.Generate)
	})
}

// withTimeout навешивает общий дедлайн запроса, если он задан конфигом.
func withTimeout(r chi.Router, d time.Duration) chi.Router {
	if d > 0 {
		return r.With(middleware.Timeout(d))
	}
	return r
}
