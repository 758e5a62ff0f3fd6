package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/elskow/bms/internal/api"
	"github.com/elskow/bms/internal/audit"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	tokenContextKey    contextKey = "token"
)

// maxAuditBody caps how much of a request body is copied into an audit entry.
const maxAuditBody = 64 << 10

var redactedFields = map[string]struct{}{
	"password":     {},
	"accessToken":  {},
	"refreshToken": {},
	"token":        {},
}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the identity attached by Authenticate.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	return identity, ok && identity != nil
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

type Middleware struct {
	service  *Service
	recorder audit.Recorder
	log      *zap.Logger
}

func NewMiddleware(service *Service, recorder audit.Recorder, log *zap.Logger) *Middleware {
	return &Middleware{
		service:  service,
		recorder: recorder,
		log:      log,
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate requires a valid access token and attaches the caller's
// identity to the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			api.WriteError(w, http.StatusUnauthorized, "No authorization token provided")
			return
		}

		identity, err := m.service.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				api.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			m.log.Error("failed to authenticate request", zap.Error(err))
			api.WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authorize admits callers whose role is in roles. An empty set admits any
// authenticated caller.
func (m *Middleware) Authorize(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				api.WriteError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			if len(roles) > 0 && !hasRole(roles, identity.Role) {
				api.WriteError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// AuditTrail records action once the request has completed successfully
// for an authenticated caller. Recording never affects the response.
func (m *Middleware) AuditTrail(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := snapshotBody(r)
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}
			identity, ok := IdentityFromContext(r.Context())
			if status >= http.StatusBadRequest || !ok || m.recorder == nil {
				return
			}

			actor := identity.UserID
			entry := audit.NewEntry(&actor, action, r.URL.Path, chi.URLParam(r, "id"), map[string]any{
				"body":  body,
				"query": r.URL.Query(),
			})
			entry.IPAddress = api.ClientIP(r)
			entry.UserAgent = r.UserAgent()
			m.recorder.Record(entry)
		})
	}
}

// snapshotBody copies a JSON request body with credentials redacted and
// restores r.Body for the handler.
func snapshotBody(r *http.Request) map[string]any {
	if r.Body == nil || r.Body == http.NoBody {
		return map[string]any{}
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBody))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	if err != nil || len(raw) == 0 {
		return map[string]any{}
	}

	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return map[string]any{}
	}
	for key := range fields {
		if _, ok := redactedFields[key]; ok {
			fields[key] = "[REDACTED]"
		}
	}
	return fields
}
