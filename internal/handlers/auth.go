package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/internal/services"
	"github.com/ieraasyl/PsoriScan/pkg/utils"
)

// SessionService is the session manager surface used by AuthHandler.
type SessionService interface {
	SignIn(ctx context.Context, username, password, device string) (*models.Session, error)
	SignUp(ctx context.Context, username, password, displayName string) (*identity.SignUpResult, error)
	ConfirmSignUp(ctx context.Context, username, code string) error
	ResendConfirmationCode(ctx context.Context, username string) error
	SignOut(ctx context.Context) error
	GetCurrentSession(ctx context.Context) (*models.Session, error)
	SaveExternalSession(ctx context.Context, bundle models.TokenBundle, device string) (*models.Session, error)
}

// AuthHandler exposes the session manager to the UI: sign-in, registration
// with confirmation codes, sign-out and the current session.
//
// Tokens never leave the process; responses carry models.SessionInfo only.
type AuthHandler struct {
	sessions SessionService
}

// NewAuthHandler creates an authentication handler.
//
// Example:
//
//	authHandler := handlers.NewAuthHandler(sessions)
//	r.Post("/api/v1/auth/signin", authHandler.SignIn)
func NewAuthHandler(sessions SessionService) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// credentialsRequest is the body of signin and signup.
type credentialsRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

// confirmRequest is the body of confirm and resend.
type confirmRequest struct {
	Username string `json:"username"`
	Code     string `json:"code,omitempty"`
}

// SignIn authenticates with username and password and installs the session.
// The request's User-Agent is recorded as the session device.
//
// Example request:
//
//	POST /api/v1/auth/signin
//	{"username": "a@b.com", "password": "Abcdef1!"}
//
// Response:
//
//	{"username": "a@b.com", "user_id": "6f1c...", "expires_at": "2024-01-20T15:00:00Z"}
//
// An unconfirmed account answers 403 with remediation "verify".
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Username and password are required")
		return
	}

	session, err := h.sessions.SignIn(r.Context(), req.Username, req.Password, services.ExtractDeviceInfo(r.UserAgent()))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, session.Info())
}

// SignUp registers an account that must be confirmed before sign-in.
//
// Response (201):
//
//	{"user_sub": "6f1c...", "confirmed": false, "destination": "a***@b.com"}
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Username and password are required")
		return
	}

	res, err := h.sessions.SignUp(r.Context(), req.Username, req.Password, strings.TrimSpace(req.DisplayName))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, res)
}

// ConfirmSignUp confirms an account with the emailed code.
func (h *AuthHandler) ConfirmSignUp(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Code) == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Username and code are required")
		return
	}

	if err := h.sessions.ConfirmSignUp(r.Context(), strings.TrimSpace(req.Username), strings.TrimSpace(req.Code)); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithMessage(w, r, http.StatusOK, "Account confirmed")
}

// ResendCode sends a fresh confirmation code.
func (h *AuthHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Username is required")
		return
	}

	if err := h.sessions.ResendConfirmationCode(r.Context(), strings.TrimSpace(req.Username)); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithMessage(w, r, http.StatusOK, "Confirmation code sent")
}

// SignOut clears the session. Signing out while signed out succeeds.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context()); err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithMessage(w, r, http.StatusOK, "Signed out")
}

// Session returns the active session, refreshing tokens when they are about
// to expire. Signed out answers 401.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetCurrentSession(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, session.Info())
}

// External installs tokens obtained from a hosted sign-in redirect.
//
// Example request:
//
//	POST /api/v1/auth/external
//	{"id_token": "eyJ...", "access_token": "eyJ...", "refresh_token": "eyJ..."}
func (h *AuthHandler) External(w http.ResponseWriter, r *http.Request) {
	var bundle models.TokenBundle
	if !decodeJSON(w, r, &bundle) {
		return
	}

	session, err := h.sessions.SaveExternalSession(r.Context(), bundle, services.ExtractDeviceInfo(r.UserAgent()))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, session.Info())
}

// decodeJSON decodes a bounded JSON body into v, answering 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
