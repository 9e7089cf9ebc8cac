package handler

import "authz-gateway/internal/guard"

const (
	jsonKeyError   = "error"
	jsonKeyMessage = "message"

	paramID = "id"

	queryActorID   = "actor_id"
	queryEventType = "event_type"
	queryStatus    = "status"
	queryLimit     = "limit"

	actionRead        = "read"
	actionAssign      = "assign"
	resourceStats     = "admin_stats"
	resourceRoles     = "roles"
	resourceAuditLog  = "audit_events"
	resourceDebug     = "diagnostics"
	contextKeyTarget  = "target"
	contextKeyNewRole = "role"
)

const (
	msgContentTypeJSONRequired = "request body must be sent as application/json"
	msgEmptyBody               = "request body is empty"
	msgMalformedBody           = "request body is not valid JSON"
	msgUnexpectedField         = "request body has an unexpected field"
	msgMultipleDocuments       = "request body must hold a single JSON object"
	msgInvalidCredentials      = "invalid email or password"
	msgNoRoleAssigned          = "account has no role assigned"
	msgSessionIssueFail        = "failed to issue session"
	msgSignInPrompt            = "Sign in to continue."
	msgForbiddenPage           = "You do not have permission to view this page."
	msgUnknownRole             = "role is not recognized"
	msgInvalidLimit            = "limit must be a positive integer"
	msgCSRFTokenFail           = "failed to create CSRF token"
)

// DiagnosticsPermission guards the runtime profiling endpoints.
var DiagnosticsPermission = guard.Permission{Action: actionRead, Resource: resourceDebug}
