package gatekeeper

const (
	// ContextKeyIdentity holds the *identity.Identity of a passed request.
	ContextKeyIdentity = "identity"

	actionView        = "view"
	resourceDashboard = "dashboard"
)

// Reason explains an Outcome. It is logged, counted and audited, never shown to
// the client.
type Reason string

const (
	ReasonPublic       Reason = "public"
	ReasonNoSession    Reason = "no_session"
	ReasonInvalidToken Reason = "invalid_token"
	ReasonExpiredToken Reason = "expired_token"
	ReasonPermitted    Reason = "permitted"
	ReasonWhitelisted  Reason = "role_whitelisted"
	ReasonForbidden    Reason = "forbidden"
	ReasonInternal     Reason = "internal_error"
)

const (
	msgPanicRecovered   = "gatekeeper recovered from panic"
	msgRoleLookupFailed = "role lookup failed; continuing without role"
	msgRefreshFailed    = "session refresh failed; passing without refresh"
	msgSessionRejected  = "session rejected"
	msgAccessForbidden  = "access forbidden"
)
