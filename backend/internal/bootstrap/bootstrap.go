// Package bootstrap opens the configured backing services for the binaries
package bootstrap

import (
	"context"

	"go.uber.org/zap"

	"sapling-graph/backend/internal/coursectx"
	"sapling-graph/backend/internal/store"
	"sapling-graph/backend/internal/store/gormstore"
	"sapling-graph/backend/internal/store/neo4jstore"
	"sapling-graph/backend/pkg/config"
	apperrors "sapling-graph/backend/pkg/errors"
)

// CloseFunc releases a backing service
type CloseFunc func() error

func noClose() error { return nil }

// OpenStore opens and prepares the record store selected by the config.
// Relational backends are migrated and Neo4j gets its uniqueness constraints.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, CloseFunc, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("Using in-memory record store; data is lost on exit")
		return store.NewMemoryStore(), noClose, nil

	case config.BackendSQLite, config.BackendPostgres:
		var (
			s   *gormstore.Store
			err error
		)
		if cfg.StoreBackend == config.BackendSQLite {
			s, err = gormstore.OpenSQLite(cfg.SQLitePath)
		} else {
			s, err = gormstore.OpenPostgres(cfg.PostgresDSN)
		}
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		log.Info("Record store ready", zap.String("backend", cfg.StoreBackend))
		return s, s.Close, nil

	case config.BackendNeo4j:
		s, err := neo4jstore.Open(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase, cfg.StoreTimeout())
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureConstraints(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		log.Info("Record store ready", zap.String("backend", cfg.StoreBackend), zap.String("uri", cfg.Neo4jURI))
		return s, s.Close, nil
	}
	return nil, nil, apperrors.NewConfigValidationFailed("STORE_BACKEND", "unknown backend "+cfg.StoreBackend)
}

// OpenCache connects the course-context cache. Caching is optional: an
// unset or unreachable Redis falls back to no cache.
func OpenCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (coursectx.Cache, CloseFunc) {
	if cfg.RedisAddr == "" {
		return coursectx.NopCache{}, noClose
	}
	client, err := coursectx.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Warn("Course context cache disabled", zap.Error(err))
		return coursectx.NopCache{}, noClose
	}
	log.Info("Course context cache ready",
		zap.String("addr", cfg.RedisAddr),
		zap.Duration("ttl", cfg.CourseContextTTL()),
	)
	return coursectx.NewRedisCache(client, cfg.CourseContextTTL()), client.Close
}
