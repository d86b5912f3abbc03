package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"peershare/internal/config"
	"peershare/internal/models"
)

// Role 决定需要连接哪些后端
type Role int

const (
	RoleTracker Role = iota
	RoleClient
)

// Catalog Tracker 目录存储（MongoDB 或 BlobCatalog）
type Catalog interface {
	LoadCatalog(ctx context.Context) ([]models.FileEntry, error)
	SaveCatalog(ctx context.Context, files []models.FileEntry) error
}

// DB 数据库管理器，只持有配置所需的后端，其余字段为 nil
type DB struct {
	MongoDB *MongoDB
	Redis   *Redis
	Blobs   BlobStore

	logger zerolog.Logger
}

// New 按角色和配置创建数据库连接
func New(ctx context.Context, cfg *config.Config, role Role, logger zerolog.Logger) (db *DB, err error) {
	db = &DB{logger: logger.With().Str("component", "database").Logger()}
	defer func() {
		if err != nil {
			db.Close()
			db = nil
		}
	}()

	switch role {
	case RoleTracker:
		if err := db.openTracker(ctx, cfg); err != nil {
			return db, err
		}
	case RoleClient:
		if err := db.openBlobs(cfg.Client.StateBackend, cfg.Client.WorkDir, "state.badger"); err != nil {
			return db, err
		}
	default:
		return db, fmt.Errorf("unknown database role %d", role)
	}
	return db, nil
}

func (db *DB) openTracker(ctx context.Context, cfg *config.Config) error {
	if cfg.Tracker.CatalogBackend == "mongo" {
		poolOpts := &MongoPoolOptions{
			MaxPoolSize:     cfg.MongoDB.MaxPoolSize,
			MinPoolSize:     cfg.MongoDB.MinPoolSize,
			MaxConnIdleTime: cfg.MongoDB.MaxConnIdleTime,
		}
		mongodb, err := NewMongoDB(cfg.GetMongoURI(), cfg.MongoDB.Database, poolOpts)
		if err != nil {
			return fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		db.MongoDB = mongodb
		db.logger.Info().Str("database", cfg.MongoDB.Database).Msg("✓ connected to MongoDB")

		if err := mongodb.CreateIndexes(ctx); err != nil {
			return err
		}
	} else if err := db.openBlobs(cfg.Tracker.CatalogBackend, cfg.Tracker.StateDir, "catalog.badger"); err != nil {
		return err
	}

	if cfg.Tracker.RegistryBackend == "redis" {
		redisPoolOpts := &RedisPoolOptions{
			PoolSize:     int(cfg.Redis.PoolSize),
			MinIdleConns: int(cfg.Redis.MinIdleConns),
		}
		redisClient, err := NewRedis(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB, redisPoolOpts)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		db.Redis = redisClient
		db.logger.Info().Str("addr", cfg.GetRedisAddr()).Msg("✓ connected to Redis")
	}
	return nil
}

func (db *DB) openBlobs(backend, dir, badgerDir string) error {
	switch backend {
	case "badger":
		store, err := NewBadger(filepath.Join(dir, badgerDir), db.logger)
		if err != nil {
			return err
		}
		db.Blobs = store
	default:
		store, err := NewFileBlobs(dir)
		if err != nil {
			return err
		}
		db.Blobs = store
	}
	db.logger.Info().Str("backend", backend).Str("dir", dir).Msg("✓ state store opened")
	return nil
}

// Catalog 返回配置的目录存储
func (db *DB) Catalog() Catalog {
	if db.MongoDB != nil {
		return db.MongoDB
	}
	return &BlobCatalog{Store: db.Blobs}
}

// Close 关闭所有数据库连接
func (db *DB) Close() error {
	var errs []error

	if db.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.MongoDB.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB: %w", err))
		}
	}
	// Redis 登记表由 Tracker 关闭时一并关闭，这里重复关闭是安全的
	if db.Redis != nil {
		if err := db.Redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
	}
	if db.Blobs != nil {
		if err := db.Blobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close state store: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	db.logger.Info().Msg("✓ all database connections closed")
	return nil
}
