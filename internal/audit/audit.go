// Package audit records authorization decisions to the audit_events table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"authz-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Status represents the outcome of an authorization decision
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusDenied  Status = "denied"
	StatusFailure Status = "failure"
)

const (
	EventPageAccess   = "page_access"
	EventActionGuard  = "action_guard"
	EventSignIn       = "sign_in"
	EventSignOut      = "sign_out"
	EventRoleAssigned = "role_assigned"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultQueryLimit   = 100
	maxQueryLimit       = 500
)

// Event represents an audit event
type Event struct {
	ID        uuid.UUID      `json:"id"`
	EventType string         `json:"event_type"`
	ActorID   string         `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Status    Status         `json:"status"`
	Path      string         `json:"path,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Recorder accepts events without blocking the request that produced them.
type Recorder interface {
	Record(ctx context.Context, event *Event)
}

// Reader lists recorded events, newest first.
type Reader interface {
	Query(ctx context.Context, filter QueryFilter) ([]*Event, error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, *Event) {}

type database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Logger handles audit logging
type Logger struct {
	db      database
	log     zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewLogger accepts a *pgxpool.Pool.
func NewLogger(db database, log zerolog.Logger) *Logger {
	return &Logger{
		db:      db,
		log:     logger.Component(log, "audit"),
		timeout: defaultWriteTimeout,
	}
}

// Log writes one event synchronously.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(logger.SanitizeMap(event.Metadata))
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}

	var actorID *string
	if event.ActorID != "" {
		actorID = &event.ActorID
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, actor_id, action, resource, status,
			path, ip_address, user_agent, request_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := l.db.Exec(ctx, query,
		event.ID,
		event.EventType,
		actorID,
		event.Action,
		event.Resource,
		event.Status,
		event.Path,
		event.IPAddress,
		event.UserAgent,
		event.RequestID,
		metadataJSON,
		event.CreatedAt,
	)

	return err
}

// Record writes the event in the background. Failures are logged, never
// returned, and ctx cancellation does not abort the write.
func (l *Logger) Record(ctx context.Context, event *Event) {
	if l == nil || event == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		if err := l.Log(writeCtx, event); err != nil {
			l.log.Warn().
				Err(err).
				Str("event_type", event.EventType).
				Str("actor_id", event.ActorID).
				Msg("audit log failed")
		}
	}()
}

// Wait blocks until every in-flight Record has finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// FromEcho fills the request-scoped fields of event from c.
func FromEcho(c echo.Context, event *Event) *Event {
	event.Path = c.Request().URL.Path
	event.IPAddress = c.RealIP()
	event.UserAgent = c.Request().UserAgent()
	event.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	return event
}

// QueryFilter narrows Query results
type QueryFilter struct {
	ActorID   string
	EventType string
	Status    Status
	Since     *time.Time
	Limit     int
}

// Query retrieves audit events
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]*Event, error) {
	query := `
		SELECT id, event_type, COALESCE(actor_id, ''), action, resource, status,
		       path, ip_address, user_agent, request_id, metadata, created_at
		FROM audit_events
		WHERE 1=1
	`
	args := []any{}
	argCount := 1

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, filter.ActorID)
		argCount++
	}

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argCount)
		args = append(args, filter.EventType)
		argCount++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filter.Status)
		argCount++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.Since)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, clampLimit(filter.Limit))

	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var metadataJSON []byte

		if err := rows.Scan(
			&event.ID,
			&event.EventType,
			&event.ActorID,
			&event.Action,
			&event.Resource,
			&event.Status,
			&event.Path,
			&event.IPAddress,
			&event.UserAgent,
			&event.RequestID,
			&metadataJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, err
			}
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return limit
	}
}
