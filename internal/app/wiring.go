package app

import (
	"context"
	"fmt"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/config"
	"authz-gateway/internal/gatekeeper"
	"authz-gateway/internal/guard"
	"authz-gateway/internal/http"
	"authz-gateway/internal/http/middleware"
	"authz-gateway/internal/policy"
	"authz-gateway/internal/repository/postgres"
	"authz-gateway/internal/session"
	"authz-gateway/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// InitializeService wires up all dependencies and returns a configured Service.
// Anything already opened is released again when a later step fails.
func InitializeService(ctx context.Context, cfg *config.Config, log zerolog.Logger) (svc *Service, err error) {
	codec, err := session.NewCodec(cfg.Session.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create session codec: %w", err)
	}

	db, err := postgres.New(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("database connection established")

	m := metrics.GetMetrics()

	policyClient, err := policy.New(cfg.Policy.Mode, policy.Config{
		PDPURL:        cfg.Policy.PDPURL,
		APIURL:        cfg.Policy.APIURL,
		APIToken:      cfg.Policy.APIToken,
		ProjectID:     cfg.Policy.ProjectID,
		EnvironmentID: cfg.Policy.EnvironmentID,
		Timeout:       cfg.Policy.Timeout,
		Retries:       cfg.Policy.Retries,
	}, policy.WithLogger(log), policy.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to create policy client: %w", err)
	}
	if cfg.Policy.Mode == config.PolicyModeRestricted {
		log.Warn().Msg("policy client is restricted: every check is denied and only whitelisted roles reach protected pages")
	}

	users := postgres.NewUserRepository(db)
	auditLog := audit.NewLogger(db.Pool, log)

	gk, err := gatekeeper.New(codec, policyClient, gatekeeper.Config{
		ProtectedPrefix: cfg.Routes.ProtectedPrefix,
		SignInPath:      cfg.Routes.SignInPath,
		ForbiddenPath:   cfg.Routes.ForbiddenPath,
	},
		gatekeeper.WithIdentityStore(users),
		gatekeeper.WithLogger(log),
		gatekeeper.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gatekeeper: %w", err)
	}

	g, err := guard.New(policyClient, nil,
		guard.WithAudit(auditLog),
		guard.WithLogger(log),
		guard.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create action guard: %w", err)
	}

	svc = &Service{
		config: cfg,
		log:    log,
		db:     db,
		audit:  auditLog,
		csrf:   middleware.NewCSRFMiddleware(context.Background()),
	}

	deps := &http.ServerDependencies{
		Config:     cfg,
		Logger:     log,
		Codec:      codec,
		Policy:     policyClient,
		Users:      users,
		Gatekeeper: gk,
		Guard:      g,
		Audit:      auditLog,
		Metrics:    m,
		CSRF:       svc.csrf,
	}

	if cfg.Redis.Addr != "" {
		svc.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := svc.redis.Ping(ctx).Err(); err != nil {
			// the limiter falls back to its in-process bucket until Redis answers
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
		}
		deps.Redis = svc.redis
	}

	svc.server = http.NewServer(deps)

	return svc, nil
}
