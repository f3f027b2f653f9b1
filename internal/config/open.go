package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/jmylchreest/folio/internal/storage"
)

// OpenArea opens the configured local storage area. The returned close func
// releases the area and any client it created.
func (c *Config) OpenArea(logger *slog.Logger) (storage.Area, func() error, error) {
	opts := []storage.Option{
		storage.WithLogger(logger),
		storage.WithQuota(c.Storage.QuotaBytes),
	}

	switch c.Storage.Backend {
	case BackendFile:
		a, err := storage.OpenFileArea(c.StorageDir(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil

	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(c.SQLitePath()), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		opts = append(opts, storage.WithPollInterval(c.PollInterval()))
		a, err := storage.OpenSQLiteArea(c.SQLitePath(), opts...)
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		a := storage.NewRedisArea(client, c.Redis.Prefix, opts...)
		return a, func() error {
			a.Close()
			return client.Close()
		}, nil

	case BackendMemory:
		a := storage.NewOrigin(opts...).Context(storage.KindLocal)
		return a, a.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
}
