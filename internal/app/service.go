package app

import (
	"context"
	"errors"
	stdhttp "net/http"

	"authz-gateway/internal/audit"
	"authz-gateway/internal/config"
	"authz-gateway/internal/http"
	"authz-gateway/internal/http/middleware"
	"authz-gateway/internal/repository/postgres"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const serverAddrPrefix = ":"

// Service is the running gateway and everything it owns.
type Service struct {
	config *config.Config
	log    zerolog.Logger
	db     *postgres.DB
	audit  *audit.Logger
	csrf   *middleware.CSRFMiddleware
	redis  *redis.Client
	server *http.Server
}

// Start serves HTTP until Shutdown is called.
func (s *Service) Start() error {
	s.log.Info().Str("port", s.config.Server.Port).Msg("starting authorization gateway")

	err := s.server.Start(serverAddrPrefix + s.config.Server.Port)
	if errors.Is(err, stdhttp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, drains pending audit writes and releases
// connections. It keeps going after a failed step and returns the first error.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.audit.Wait()
	s.csrf.Stop()

	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.db.Close()

	return err
}
