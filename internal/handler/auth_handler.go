package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/concertlabs/concert/internal/auth"
)

// AuthHandler issues operator tokens. The admin API key is held in the vault
// and loaded at startup.
type AuthHandler struct {
	jwtMgr   *auth.JWTManager
	adminKey string
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(jwtMgr *auth.JWTManager, adminKey string) *AuthHandler {
	return &AuthHandler{jwtMgr: jwtMgr, adminKey: adminKey}
}

// IssueToken handles POST /api/v1/auth/token
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperatorID string `json:"operator_id"`
		APIKey     string `json:"api_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OperatorID == "" {
		writeError(w, http.StatusBadRequest, "operator_id is required")
		return
	}
	if h.adminKey == "" ||
		subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.adminKey)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	pair, err := h.jwtMgr.GenerateTokenPair(req.OperatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// RefreshToken handles POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	claims, err := h.jwtMgr.ValidateToken(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	pair, err := h.jwtMgr.GenerateTokenPair(claims.OperatorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pair)
}
