package api

// Authentication endpoints
const (
	AuthRegister      = "/api/auth/register"
	AuthLogin         = "/api/auth/login"
	AuthRefresh       = "/api/auth/refresh"
	AuthLogout        = "/api/auth/logout"
	AuthCheckUsername = "/api/auth/check-username/{username}"
	AuthCheckEmail    = "/api/auth/check-email/{email}"
	AuthStatus        = "/api/auth/status/{id}"
	AuthMe            = "/api/auth/me"
)

// Administration endpoints
const (
	AdminRegistrations = "/api/admin/registrations"
	AdminApprove       = "/api/admin/registrations/{id}/approve"
	AdminReject        = "/api/admin/registrations/{id}/reject"
	AdminDisableUser   = "/api/admin/users/{id}/disable"
	AdminSessions      = "/api/admin/sessions"
	AdminRevokeSession = "/api/admin/sessions/{id}/revoke"
	AdminAuditLogs     = "/api/admin/audit-logs"
)

const Health = "/healthz"
