package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/guard"
	"authz-gateway/internal/identity"
	"authz-gateway/internal/policy"
	"authz-gateway/internal/roles"
	"authz-gateway/pkg/metrics"
	"authz-gateway/pkg/profiling"
	"authz-gateway/pkg/validator"

	"github.com/labstack/echo/v4"
)

// RoleWriter persists a subject's role.
type RoleWriter interface {
	UpdateRole(ctx context.Context, id, role string) error
}

// ActionHandler serves privileged operations. Every one runs behind the guard.
type ActionHandler struct {
	guard   *guard.Guard
	metrics *metrics.Metrics
	roles   RoleWriter
	policy  policy.Client
	events  audit.Reader
	audit   audit.Recorder
}

type ActionHandlerConfig struct {
	Guard   *guard.Guard
	Metrics *metrics.Metrics
	Roles   RoleWriter
	Policy  policy.Client
	Events  audit.Reader
	Audit   audit.Recorder
}

func NewActionHandler(cfg ActionHandlerConfig) *ActionHandler {
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	return &ActionHandler{
		guard:   cfg.Guard,
		metrics: cfg.Metrics,
		roles:   cfg.Roles,
		policy:  cfg.Policy,
		events:  cfg.Events,
		audit:   cfg.Audit,
	}
}

type AssignRoleRequest struct {
	Role string `json:"role"`
}

type AssignRoleResponse struct {
	SubjectID string `json:"subject_id"`
	Role      string `json:"role"`
}

type AdminStatsResponse struct {
	Metrics metrics.Snapshot      `json:"metrics"`
	Memory  profiling.MemoryStats `json:"memory"`
}

type AuditEventsResponse struct {
	Events []*audit.Event `json:"events"`
}

func (h *ActionHandler) AdminStats(c echo.Context) error {
	res := guard.Run(c.Request().Context(), h.guard, guard.Permission{
		Action:   actionRead,
		Resource: resourceStats,
	}, func(context.Context, *identity.Identity) (AdminStatsResponse, error) {
		return AdminStatsResponse{
			Metrics: h.metrics.Snapshot(),
			Memory:  profiling.GetMemoryStats(),
		}, nil
	})

	return respondResult(c, http.StatusOK, res)
}

// RequirePermission guards every route of a group with the same permission.
func (h *ActionHandler) RequirePermission(p guard.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, denial := h.guard.Authorize(c.Request().Context(), p); denial != nil {
				return respondDenial(c, denial)
			}
			return next(c)
		}
	}
}

// AssignRole validates input before consulting the guard, so a malformed request
// never reaches the policy decision point.
func (h *ActionHandler) AssignRole(c echo.Context) error {
	target := strings.TrimSpace(c.Param(paramID))
	if err := validator.SubjectID(target); err != nil {
		return err
	}

	var req AssignRoleRequest
	if err := decodeJSON(c, &req); err != nil {
		return handleHTTPError(c, err)
	}

	role := roles.Normalize(req.Role)
	if !roles.IsRecognized(role) {
		return respondError(c, http.StatusBadRequest, msgUnknownRole)
	}

	res := guard.Run(c.Request().Context(), h.guard, guard.Permission{
		Action:   actionAssign,
		Resource: resourceRoles,
		Context:  map[string]any{contextKeyTarget: target, contextKeyNewRole: role},
	}, func(ctx context.Context, caller *identity.Identity) (AssignRoleResponse, error) {
		if err := h.roles.UpdateRole(ctx, target, role); err != nil {
			return AssignRoleResponse{}, err
		}
		h.policy.EnsureRole(ctx, target, role, policy.DefaultTenant)
		h.audit.Record(ctx, audit.FromEcho(c, &audit.Event{
			EventType: audit.EventRoleAssigned,
			ActorID:   caller.ID,
			Action:    actionAssign,
			Resource:  resourceRoles,
			Status:    audit.StatusAllowed,
			Metadata:  map[string]any{contextKeyTarget: target, contextKeyNewRole: role},
		}))
		return AssignRoleResponse{SubjectID: target, Role: role}, nil
	})

	return respondResult(c, http.StatusOK, res)
}

func (h *ActionHandler) AuditEvents(c echo.Context) error {
	filter := audit.QueryFilter{
		ActorID:   c.QueryParam(queryActorID),
		EventType: c.QueryParam(queryEventType),
		Status:    audit.Status(c.QueryParam(queryStatus)),
	}
	if raw := c.QueryParam(queryLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return respondError(c, http.StatusBadRequest, msgInvalidLimit)
		}
		filter.Limit = limit
	}

	res := guard.Run(c.Request().Context(), h.guard, guard.Permission{
		Action:   actionRead,
		Resource: resourceAuditLog,
	}, func(ctx context.Context, _ *identity.Identity) (AuditEventsResponse, error) {
		events, err := h.events.Query(ctx, filter)
		if err != nil {
			return AuditEventsResponse{}, err
		}
		return AuditEventsResponse{Events: events}, nil
	})

	return respondResult(c, http.StatusOK, res)
}
