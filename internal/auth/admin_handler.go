package auth

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/api"
	"github.com/elskow/bms/internal/audit"
)

// AdminHandler serves the approval workflow and session administration.
// Every route requires the admin role.
type AdminHandler struct {
	service *Service
	store   audit.Store
	log     *zap.Logger
	debug   bool
}

func NewAdminHandler(service *Service, store audit.Store, log *zap.Logger, debug bool) *AdminHandler {
	return &AdminHandler{
		service: service,
		store:   store,
		log:     log,
		debug:   debug,
	}
}

func (h *AdminHandler) Routes(r chi.Router, mw *Middleware) {
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate, mw.Authorize(RoleAdmin))

		r.Get(api.AdminRegistrations, h.ListRegistrations)
		r.With(mw.AuditTrail(audit.ActionUserApproved)).Post(api.AdminApprove, h.Approve)
		r.With(mw.AuditTrail(audit.ActionUserRejected)).Post(api.AdminReject, h.Reject)
		r.With(mw.AuditTrail(audit.ActionUserDisabled)).Post(api.AdminDisableUser, h.Disable)
		r.Get(api.AdminSessions, h.ListSessions)
		r.With(mw.AuditTrail(audit.ActionSessionRevoked)).Post(api.AdminRevokeSession, h.RevokeSession)
		r.Get(api.AdminAuditLogs, h.AuditLogs)
	})
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	writeFailure(w, r, h.log, h.debug, err, fallback)
}

type registrationView struct {
	profile
	PhoneNumber string    `json:"phoneNumber"`
	Purok       string    `json:"purok"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *AdminHandler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListRegistrations(r.Context(), Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, err, "Failed to list registrations")
		return
	}

	views := make([]registrationView, 0, len(accounts))
	for i := range accounts {
		a := &accounts[i]
		views = append(views, registrationView{
			profile:     newProfile(a),
			PhoneNumber: a.PhoneNumber,
			Purok:       a.Purok,
			CreatedAt:   a.CreatedAt,
		})
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "registrations": views})
}

func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.ApproveRegistration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Approval failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Registration approved",
		"user":    newProfile(account),
	})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.RejectRegistration(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.fail(w, r, err, "Rejection failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Registration rejected",
		"user":    newProfile(account),
	})
}

func (h *AdminHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.DisableAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "Disable failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Account disabled",
		"user":    newProfile(account),
	})
}

func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []Session{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": sessions})
}

func (h *AdminHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RevokeSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, "Revocation failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Session revoked"})
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := audit.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err, "Failed to load audit logs")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "logs": entries})
}
