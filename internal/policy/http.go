package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authz-gateway/internal/roles"
	apperrors "authz-gateway/pkg/errors"
	"authz-gateway/pkg/logger"
	"authz-gateway/pkg/metrics"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout    = 3 * time.Second
	defaultRetryDelay = 100 * time.Millisecond

	allowedPath         = "/allowed"
	factsPathFmt        = "/v2/facts/%s/%s"
	usersPathFmt        = "/users/%s"
	roleAssignmentsPath = "/role_assignments"
)

// Config for the PDP client. No defaults for endpoints or credentials: they
// must be explicitly configured.
type Config struct {
	// PDPURL is the base of the decision endpoint (e.g. "http://pdp:7766").
	PDPURL string
	// APIURL is the base of the subject directory API (e.g. "https://api.permit.io").
	APIURL        string
	APIToken      string
	ProjectID     string
	EnvironmentID string

	// Timeout bounds every Check and every EnsureRole, retries included.
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Validate checks that all required config fields are set
func (c *Config) Validate() error {
	if c.PDPURL == "" {
		return apperrors.Configuration("policy: PDPURL is required")
	}
	if c.APIURL == "" {
		return apperrors.Configuration("policy: APIURL is required")
	}
	if c.APIToken == "" {
		return apperrors.Configuration("policy: APIToken is required")
	}
	if c.ProjectID == "" || c.EnvironmentID == "" {
		return apperrors.Configuration("policy: ProjectID and EnvironmentID are required")
	}
	if c.Retries < 0 {
		return apperrors.Configuration("policy: Retries must not be negative")
	}
	return nil
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

func (c *Config) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return defaultRetryDelay
	}
	return c.RetryDelay
}

type Option func(*HTTPClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *HTTPClient) {
		c.log = logger.Component(l, "policy")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *HTTPClient) {
		c.metrics = m
	}
}

// HTTPClient is the full PDP client. It holds no per-request state; the underlying
// http.Client is shared across requests.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	headers    map[string]string
	factsBase  string
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

func NewHTTPClient(cfg Config, opts ...Option) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		headers: map[string]string{
			"Authorization": "Bearer " + cfg.APIToken,
		},
		factsBase: strings.TrimRight(cfg.APIURL, "/") +
			fmt.Sprintf(factsPathFmt, url.PathEscape(cfg.ProjectID), url.PathEscape(cfg.EnvironmentID)),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type userRef struct {
	Key string `json:"key"`
}

type resourceRef struct {
	Type   string `json:"type"`
	Tenant string `json:"tenant"`
}

type checkRequest struct {
	User     userRef        `json:"user"`
	Action   string         `json:"action"`
	Resource resourceRef    `json:"resource"`
	Context  map[string]any `json:"context"`
}

type checkResponse struct {
	Allow bool            `json:"allow"`
	Debug json.RawMessage `json:"debug,omitempty"`
}

type roleAssignment struct {
	User   string `json:"user"`
	Role   string `json:"role"`
	Tenant string `json:"tenant"`
}

// Check asks the PDP for a decision. It fails closed.
func (c *HTTPClient) Check(ctx context.Context, req Request) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	reqCtx := req.Context
	if reqCtx == nil {
		reqCtx = map[string]any{}
	}

	body := checkRequest{
		User:     userRef{Key: req.Subject},
		Action:   req.Action,
		Resource: resourceRef{Type: req.Resource, Tenant: req.tenant()},
		Context:  reqCtx,
	}

	status, respBody, err := requestJSON(ctx, c.httpClient, http.MethodPost, strings.TrimRight(c.cfg.PDPURL, "/")+allowedPath, body, c.headers, c.cfg.Retries, c.cfg.retryDelay())
	if err != nil {
		c.unavailable(req, apperrors.PolicyUnavailable("policy check failed", err))
		return false
	}
	if status != http.StatusOK {
		c.unavailable(req, apperrors.PolicyUnavailable(fmt.Sprintf("policy check returned HTTP %d", status), nil))
		return false
	}

	var decision checkResponse
	if err := json.Unmarshal(respBody, &decision); err != nil {
		c.unavailable(req, apperrors.PolicyUnavailable("policy check returned malformed body", err))
		return false
	}

	c.log.Debug().
		Str("subject", req.Subject).
		Str("action", req.Action).
		Str("resource", req.Resource).
		Bool("allow", decision.Allow).
		RawJSON("debug", nonEmptyJSON(decision.Debug)).
		Msg("policy decision")

	return decision.Allow
}

func (c *HTTPClient) unavailable(req Request, err error) {
	c.metrics.RecordDecision(metrics.DecisionPolicyError)
	c.log.Warn().
		Str("subject", req.Subject).
		Str("action", req.Action).
		Str("resource", req.Resource).
		Str("error", logger.SanitizeLogMessage(err.Error())).
		Msg("policy check denied: decision point unavailable")
}

// EnsureRole syncs the subject into the directory and assigns role in tenant
// unless the assignment already exists.
func (c *HTTPClient) EnsureRole(ctx context.Context, subject, role, tenant string) {
	role = roles.Normalize(role)
	if subject == "" || role == "" {
		c.log.Debug().Str("subject", subject).Msg("role sync skipped: missing subject or role")
		return
	}
	if tenant == "" {
		tenant = DefaultTenant
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()

	if err := c.ensureRole(ctx, subject, role, tenant); err != nil {
		c.log.Warn().
			Str("subject", subject).
			Str("role", role).
			Str("tenant", tenant).
			Str("error", logger.SanitizeLogMessage(err.Error())).
			Msg("role sync failed")
	}
}

func (c *HTTPClient) ensureRole(ctx context.Context, subject, role, tenant string) error {
	userURL := c.factsBase + fmt.Sprintf(usersPathFmt, url.PathEscape(subject))
	status, _, err := requestJSON(ctx, c.httpClient, http.MethodPut, userURL, userRef{Key: subject}, c.headers, c.cfg.Retries, c.cfg.retryDelay())
	if err != nil {
		return fmt.Errorf("sync user: %w", err)
	}
	if !isSuccess(status) {
		return fmt.Errorf("sync user: HTTP %d", status)
	}

	query := url.Values{}
	query.Set("user", subject)
	query.Set("tenant", tenant)
	status, body, err := requestJSON(ctx, c.httpClient, http.MethodGet, c.factsBase+roleAssignmentsPath+"?"+query.Encode(), nil, c.headers, c.cfg.Retries, c.cfg.retryDelay())
	if err != nil {
		return fmt.Errorf("list role assignments: %w", err)
	}
	if !isSuccess(status) {
		return fmt.Errorf("list role assignments: HTTP %d", status)
	}

	var existing []roleAssignment
	if err := json.Unmarshal(body, &existing); err != nil {
		return fmt.Errorf("decode role assignments: %w", err)
	}
	for _, a := range existing {
		if roles.Normalize(a.Role) == role && (a.Tenant == "" || a.Tenant == tenant) {
			return nil
		}
	}

	assignment := roleAssignment{User: subject, Role: role, Tenant: tenant}
	status, _, err = requestJSON(ctx, c.httpClient, http.MethodPost, c.factsBase+roleAssignmentsPath, assignment, c.headers, c.cfg.Retries, c.cfg.retryDelay())
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	// a concurrent request may have created the same assignment
	if status == http.StatusConflict {
		return nil
	}
	if !isSuccess(status) {
		return fmt.Errorf("assign role: HTTP %d", status)
	}

	c.log.Info().Str("subject", subject).Str("role", role).Str("tenant", tenant).Msg("role assigned")
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
