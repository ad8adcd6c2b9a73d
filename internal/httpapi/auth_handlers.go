package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/auth"
)

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if a.tokens == nil || a.users == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "token issuance is not configured")
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	identity, err := auth.Login(r.Context(), a.users, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "authentication error")
		return
	}

	signed, expiresAt, err := a.tokens.Issue(identity, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "token issuance failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     signed,
		Role:      identity.Role,
		ExpiresAt: expiresAt,
	})
}
