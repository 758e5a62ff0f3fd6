package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/api"
)

type Handler struct {
	service *Service
	log     *zap.Logger
	debug   bool
}

// NewHandler builds the public auth endpoints. With debug set, internal
// errors carry their detail in the response.
func NewHandler(service *Service, log *zap.Logger, debug bool) *Handler {
	return &Handler{
		service: service,
		log:     log,
		debug:   debug,
	}
}

func (h *Handler) Routes(r chi.Router, mw *Middleware) {
	r.Post(api.AuthRegister, h.Register)
	r.Post(api.AuthLogin, h.Login)
	r.Post(api.AuthRefresh, h.Refresh)
	r.With(mw.Authenticate).Post(api.AuthLogout, h.Logout)
	r.Get(api.AuthCheckUsername, h.CheckUsername)
	r.Get(api.AuthCheckEmail, h.CheckEmail)
	r.Get(api.AuthStatus, h.RegistrationStatus)
	r.With(mw.Authenticate).Get(api.AuthMe, h.Me)
}

func clientMeta(r *http.Request) ClientMeta {
	return ClientMeta{IP: api.ClientIP(r), UserAgent: r.UserAgent()}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// writeFailure renders client-facing errors verbatim and everything else as
// a 500 carrying fallback.
func writeFailure(w http.ResponseWriter, r *http.Request, log *zap.Logger, debug bool, err error, fallback string) {
	var e *Error
	if errors.As(err, &e) {
		if e.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
		}
		api.WriteJSON(w, StatusCode(err), api.ErrorResponse{
			Error:       e.Message,
			ReferenceID: e.ReferenceID,
			RetryAfter:  e.RetryAfter,
		})
		return
	}

	log.Error(fallback,
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))

	resp := api.ErrorResponse{Error: fallback}
	if debug {
		resp.Detail = err.Error()
	}
	api.WriteJSON(w, http.StatusInternalServerError, resp)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	writeFailure(w, r, h.log, h.debug, err, fallback)
}

type registerResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReferenceID string `json:"referenceId"`
	Email       string `json:"email"`
	Status      Status `json:"status"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Register(r.Context(), &req, clientMeta(r))
	if err != nil {
		if StatusCode(err) < http.StatusInternalServerError {
			h.log.Warn("registration rejected", zap.String("username", req.Username), zap.Error(err))
		}
		h.fail(w, r, err, "Registration failed. Please try again.")
		return
	}

	api.WriteJSON(w, http.StatusCreated, registerResponse{
		Success:     true,
		Message:     "Registration successful. Your account is pending admin approval.",
		ReferenceID: result.ReferenceID.String(),
		Email:       result.Email,
		Status:      result.Status,
	})
}

type userSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

type loginResponse struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	User         userSummary `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Login(r.Context(), &req, clientMeta(r))
	if err != nil {
		if StatusCode(err) < http.StatusInternalServerError {
			h.log.Warn("login rejected", zap.String("identifier", req.Username), zap.Error(err))
		}
		h.fail(w, r, err, "Login failed. Please try again.")
		return
	}

	account := result.Account
	api.WriteJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		Message:      "Login successful",
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User: userSummary{
			ID:       account.ID.String(),
			Username: account.Username,
			Email:    account.Email,
			Role:     account.Role,
		},
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Refresh token required")
		return
	}

	token, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, err, "Token refresh failed")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"accessToken": token,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if err := h.service.Logout(r.Context(), tokenFromContext(r.Context()), *identity, clientMeta(r)); err != nil {
		h.fail(w, r, err, "Logout failed")
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (h *Handler) CheckUsername(w http.ResponseWriter, r *http.Request) {
	available, err := h.service.UsernameAvailable(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.fail(w, r, err, "Check failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "available": available})
}

func (h *Handler) CheckEmail(w http.ResponseWriter, r *http.Request) {
	available, err := h.service.EmailAvailable(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err, "Check failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "available": available})
}

type statusResponse struct {
	Success         bool       `json:"success"`
	Status          Status     `json:"status"`
	Email           string     `json:"email"`
	ReferenceID     string     `json:"referenceId"`
	CreatedAt       time.Time  `json:"createdAt"`
	VerifiedAt      *time.Time `json:"verifiedAt"`
	RejectedAt      *time.Time `json:"rejectedAt"`
	RejectionReason *string    `json:"rejectionReason"`
}

// RegistrationStatus is public. Anyone holding a reference id can read the
// account's status and email.
func (h *Handler) RegistrationStatus(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.RegistrationStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Status check failed")
		return
	}

	api.WriteJSON(w, http.StatusOK, statusResponse{
		Success:         true,
		Status:          account.Status,
		Email:           account.Email,
		ReferenceID:     account.ID.String(),
		CreatedAt:       account.CreatedAt,
		VerifiedAt:      account.VerifiedAt,
		RejectedAt:      account.RejectedAt,
		RejectionReason: account.RejectionReason,
	})
}

type profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      Role   `json:"role"`
	Status    Status `json:"status"`
}

func newProfile(a *Account) profile {
	return profile{
		ID:        a.ID.String(),
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Role:      a.Role,
		Status:    a.Status,
	}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	account, err := h.service.Me(r.Context(), identity.UserID)
	if err != nil {
		h.fail(w, r, err, "Profile fetch failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "user": newProfile(account)})
}
