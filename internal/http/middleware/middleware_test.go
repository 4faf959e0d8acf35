package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/rag-gateway/internal/config"
	"github.com/pribylovaa/rag-gateway/internal/models"
	"github.com/pribylovaa/rag-gateway/internal/service"
)

// capHandler — тестовый slog.Handler, который:
//   - аккумулирует базовые attrs, приходящие через Logger.With(...);
//   - собирает attrs из каждой записи в map[string]any;
//   - не создаёт реальных I/O, чтобы не паниковать в тестах.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)

	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}

	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out

	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) > 0 {
		h.base = append(h.base, attrs...)
	}

	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errEnvelope struct {
	Error apiError `json:"error"`
}

// authFn — стаб Authenticator для тестов мидлвара.
type authFn func(ctx context.Context, access, refresh string) (*service.AuthResult, error)

func (f authFn) Authenticate(ctx context.Context, access, refresh string) (*service.AuthResult, error) {
	return f(ctx, access, refresh)
}

func authCfg() config.AuthConfig {
	return config.AuthConfig{
		CookieName:   "refresh_token",
		CookieTTL:    30 * time.Minute,
		CookieSecure: true,
	}
}

func TestChain_Order(t *testing.T) {
	order := []string{}

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m1-end")
		})
	}

	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m2-end")
		})
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	chain := Chain(final, m1, m2)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	var seenID string
	var seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get("X-Request-Id")
		seenCtxID, _ = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, RequestID())
	rr := httptest.NewRecorder()
	req := makeReq("/rid")
	chain.ServeHTTP(rr, req)

	respID := rr.Header().Get("X-Request-Id")
	require.NotEmpty(t, respID)
	require.Len(t, respID, 32) // 16 байт → 32 hex-символа

	require.Equal(t, respID, seenID)
	require.Equal(t, respID, seenCtxID)
}

func TestRequestID_UseExisting(t *testing.T) {
	const given = "abc123-existing-id"
	var seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtxID, _ = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, RequestID())
	rr := httptest.NewRecorder()
	req := makeReq("/rid2")
	req.Header.Set("X-Request-Id", given)
	chain.ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get("X-Request-Id"))
	require.Equal(t, given, seenCtxID)
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	called := false
	auth := authFn(func(context.Context, string, string) (*service.AuthResult, error) {
		called = true
		return nil, nil
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("обработчик не должен вызываться без токена")
	})

	chain := Chain(h, Authenticate(auth, authCfg()))
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/predict"))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.False(t, called, "без заголовка Authorization провайдер не опрашивается")

	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "token_invalid", env.Error.Code)
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	auth := authFn(func(context.Context, string, string) (*service.AuthResult, error) {
		t.Fatal("провайдер не должен опрашиваться")
		return nil, nil
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("обработчик не должен вызываться")
	})
	chain := Chain(h, Authenticate(auth, authCfg()))

	for _, header := range []string{"Basic dXNlcjpwdw==", "Bearer", "Bearer   "} {
		rr := httptest.NewRecorder()
		req := makeReq("/predict")
		req.Header.Set("Authorization", header)
		chain.ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code, "header=%q", header)
	}
}

func TestAuthenticate_ValidToken_PassesClaimsAndToken(t *testing.T) {
	claims := &models.Claims{Subject: "user-123", Username: "testuser"}
	auth := authFn(func(_ context.Context, access, refresh string) (*service.AuthResult, error) {
		require.Equal(t, "good-token", access)
		require.Empty(t, refresh)
		return &service.AuthResult{Claims: claims}, nil
	})

	var gotClaims *models.Claims
	var gotToken string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFrom(r.Context())
		gotToken, _ = AccessTokenFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, Authenticate(auth, authCfg()))
	rr := httptest.NewRecorder()
	req := makeReq("/predict")
	req.Header.Set("Authorization", "Bearer good-token")
	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, claims, gotClaims)
	require.Equal(t, "good-token", gotToken)

	// Без ротации — ни cookie, ни заголовка Authorization в ответе.
	require.Empty(t, rr.Result().Cookies())
	require.Empty(t, rr.Header().Get("Authorization"))
}

func TestAuthenticate_ReadsRefreshCookie(t *testing.T) {
	var gotRefresh string
	auth := authFn(func(_ context.Context, _, refresh string) (*service.AuthResult, error) {
		gotRefresh = refresh
		return &service.AuthResult{Claims: &models.Claims{Subject: "user-123"}}, nil
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	chain := Chain(h, Authenticate(auth, authCfg()))
	rr := httptest.NewRecorder()
	req := makeReq("/predict")
	req.Header.Set("Authorization", "Bearer expired-token")
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "the-refresh"})
	chain.ServeHTTP(rr, req)

	require.Equal(t, "the-refresh", gotRefresh)
}

// Ротация: до обработчика в ответ попадают новая refresh-cookie и
// заголовок Authorization с новым access-токеном; контекст несёт новый токен.
func TestAuthenticate_RotatedPair_SetsCookieAndHeader(t *testing.T) {
	pair := &models.TokenPair{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
	}
	auth := authFn(func(context.Context, string, string) (*service.AuthResult, error) {
		return &service.AuthResult{
			Claims:  &models.Claims{Subject: "user-123"},
			Rotated: pair,
		}, nil
	})

	var gotToken string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken, _ = AccessTokenFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, Authenticate(auth, authCfg()))
	rr := httptest.NewRecorder()
	req := makeReq("/predict")
	req.Header.Set("Authorization", "Bearer expired-token")
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "old-refresh"})
	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "new-access", gotToken)
	require.Equal(t, "Bearer new-access", rr.Header().Get("Authorization"))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	require.Equal(t, "refresh_token", c.Name)
	require.Equal(t, "new-refresh", c.Value)
	require.Equal(t, "/", c.Path)
	require.True(t, c.HttpOnly)
	require.True(t, c.Secure)
	require.Equal(t, http.SameSiteStrictMode, c.SameSite)
	require.Equal(t, int((30 * time.Minute).Seconds()), c.MaxAge)
}

func TestAuthenticate_ServiceError_Mapped(t *testing.T) {
	auth := authFn(func(context.Context, string, string) (*service.AuthResult, error) {
		return nil, service.ErrTokenExpired
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("обработчик не должен вызываться")
	})

	chain := Chain(h, Authenticate(auth, authCfg()))
	rr := httptest.NewRecorder()
	req := makeReq("/predict")
	req.Header.Set("Authorization", "Bearer expired-token")
	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "token_expired", env.Error.Code)
}

func TestAuthenticate_UpstreamDown_503(t *testing.T) {
	auth := authFn(func(context.Context, string, string) (*service.AuthResult, error) {
		return nil, fmt.Errorf("service.auth.Authenticate: %w", service.ErrUpstreamUnavailable)
	})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("обработчик не должен вызываться")
	})

	chain := Chain(h, Authenticate(auth, authCfg()))
	rr := httptest.NewRecorder()
	req := makeReq("/predict")
	req.Header.Set("Authorization", "Bearer good-token")
	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	var hasDeadline bool
	var left time.Duration

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dl, ok := r.Context().Deadline()
		hasDeadline = ok
		if ok {
			left = time.Until(dl)
		}
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, Timeout(50*time.Millisecond))
	rr := httptest.NewRecorder()
	req := makeReq("/timeout")
	chain.ServeHTTP(rr, req)

	require.True(t, hasDeadline)
	require.Greater(t, left, time.Duration(0))
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	var childDL time.Time

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dl, _ := r.Context().Deadline()
		childDL = dl
		w.WriteHeader(http.StatusOK)
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := makeReq("/timeout2").WithContext(parent)

	chain := Chain(h, Timeout(1*time.Second)) // больше, чем у родителя
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	chain := Chain(panicHandler, Recover())
	rr := httptest.NewRecorder()
	req := makeReq("/panic")

	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "internal", env.Error.Code)
	require.NotEmpty(t, env.Error.Message)
}

func TestLogging_WritesRecord_WithStatusDurBytesAndRequestID(t *testing.T) {
	h := &capHandler{}
	logger := slog.New(h)

	// Ручной request id обеспечит присутствие request_id в логах.
	const rid = "rid-456"
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Не вызываем WriteHeader — статус должен стать 200 после Write.
		_, _ = w.Write([]byte("0123456789")) // 10 байт
	})

	// Порядок важен: RequestID до Logging, чтобы id попал в attrs лога.
	handler := Chain(final, RequestID(), Logging(logger))

	rr := httptest.NewRecorder()
	req := makeReq("/log")
	req.Header.Set("X-Request-Id", rid)

	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, h.count)
	require.Equal(t, "http", h.lastMsg)

	// Проверяем ключевые атрибуты.
	method, _ := h.attrs["method"].(string)
	path, _ := h.attrs["path"].(string)
	status, _ := h.attrs["status"].(int64) // slog хранит числа как int64
	bytes, _ := h.attrs["bytes"].(int64)
	ridAttr, _ := h.attrs["request_id"].(string)

	require.Equal(t, http.MethodGet, method)
	require.Equal(t, "/log", path)
	require.EqualValues(t, http.StatusOK, status)
	require.EqualValues(t, 10, bytes)
	require.Equal(t, rid, ridAttr)

	// Длительность > 0.
	_, hasDur := h.attrs["dur"]
	require.True(t, hasDur)
}

func TestCORS_Preflight(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight не должен доходить до обработчика")
	})

	chain := Chain(h, CORS())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://app.example.com")
	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestCORS_ExposesAuthorizationHeader(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, CORS())
	rr := httptest.NewRecorder()
	req := makeReq("/predict")
	req.Header.Set("Origin", "https://app.example.com")
	chain.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "Authorization")
	require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_NoOrigin_Passthrough(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	chain := Chain(h, CORS())
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/predict"))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics_CountsRequestsAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	chain := Chain(h, m.Middleware())
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/predict"))

	// Вне chi-роутера шаблон маршрута неизвестен.
	got := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", http.MethodGet, "418"))
	require.Equal(t, float64(1), got)
}

func TestStatusWriter_CountsBytes_AndDefaultStatus200(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)

	_, _ = sw.Write([]byte("abcd")) // 4 байта

	require.Equal(t, http.StatusOK, sw.status) // статус умолчаний — 200
	require.Equal(t, 4, sw.count)
}

func TestStatusWriter_ForwardsFlush(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)

	_, _ = sw.Write([]byte("chunk"))
	sw.Flush()

	require.True(t, rr.Flushed, "Flush должен доходить до нижележащего writer'а")
}
