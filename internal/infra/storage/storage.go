// Package storage opens the bad URL ledger backend selected in config.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vietddude/scrapeback/internal/infra/redis"
	"github.com/vietddude/scrapeback/internal/infra/storage/postgres"
	"github.com/vietddude/scrapeback/internal/scrape/ledger"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown ledger backend")

// Config selects the ledger backend.
type Config struct {
	Backend   string `yaml:"backend"`
	Namespace string `yaml:"namespace"`
}

// Store is an opened ledger plus the resources behind it.
type Store struct {
	Ledger  ledger.Ledger
	Backend string
	// Redis is set for the redis backend, used for the rescan lock.
	Redis  *redis.Client
	// Ping checks the backend, nil for memory.
	Ping   func(ctx context.Context) error
	closer io.Closer
}

// Close releases the backend connection.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg Config, redisCfg redis.Config, dbCfg postgres.Config) (*Store, error) {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return &Store{Ledger: ledger.NewMemory(), Backend: BackendMemory}, nil

	case BackendRedis:
		client, err := redis.NewClient(redisCfg)
		if err != nil {
			return nil, err
		}
		slog.Info("Bad URL ledger on redis", "namespace", namespace)
		return &Store{
			Ledger:  redis.NewBadURLSet(client, namespace),
			Backend: BackendRedis,
			Redis:   client,
			Ping:    client.Ping,
			closer:  client,
		}, nil

	case BackendPostgres:
		db, err := postgres.NewDB(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		db.StartMetricsCollector(ctx)
		slog.Info("Bad URL ledger on postgres", "namespace", namespace)
		return &Store{
			Ledger:  postgres.NewBadURLRepo(db, namespace),
			Backend: BackendPostgres,
			Ping:    db.Health,
			closer:  db,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
