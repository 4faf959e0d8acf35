package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/rag-gateway/internal/errors"
	"github.com/pribylovaa/rag-gateway/internal/http/middleware"
	"github.com/pribylovaa/rag-gateway/internal/models"
	"github.com/pribylovaa/rag-gateway/internal/service"
)

// Login — POST /login.
//
// Принимает form-encoded `username` и `password` (контракт фронта),
// обменивает их у IdP на пару токенов. Access-токен возвращается в теле,
// refresh-токен уезжает только в HttpOnly-cookie.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		apierrors.WriteError(w, r, service.ErrInvalidArgument)
		return
	}

	pair, err := h.svc.Login(r.Context(), username, password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if pair.RefreshToken != "" {
		middleware.SetRefreshCookie(w, h.authCfg, pair.RefreshToken)
	}

	out := models.LoginResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
	}
	if !pair.AccessExpiresAt.IsZero() {
		out.AccessExpiresAt = pair.AccessExpiresAt.Unix()
	}

	writeJSON(w, http.StatusOK, out)
}
