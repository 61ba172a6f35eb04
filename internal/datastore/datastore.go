// Package datastore provides the durable slot backing the image cache's warm
// start. A slot holds one opaque payload under a name; the last writer wins.
// The cache treats the slot as advisory, so every backend may fail without
// affecting in-memory behaviour.
package datastore

import (
	"context"
	"strings"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

// DefaultSlotName is the slot name used when none is configured
const DefaultSlotName = "pawdentify_image_cache"

// ErrSlotEmpty is returned by Load when nothing has been saved yet
var ErrSlotEmpty = errors.NewStd("durable slot is empty")

// SlotStore is a single named durable slot
type SlotStore interface {
	// Load returns the last saved payload or ErrSlotEmpty
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored payload
	Save(ctx context.Context, payload []byte) error
	// Close releases backend resources
	Close() error
}

// Backend types
const (
	TypeNone   = "none"
	TypeMemory = "memory"
	TypeFile   = "file"
	TypeSQLite = "sqlite"
	TypeMySQL  = "mysql"
	TypeRedis  = "redis"
)

// Config selects and configures a slot backend
type Config struct {
	Type     string
	SlotName string
	File     FileConfig
	SQLite   SQLiteConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
}

// FileConfig configures the JSON file backend
type FileConfig struct {
	Path string
}

// SQLiteConfig configures the SQLite backend
type SQLiteConfig struct {
	Path string
}

// MySQLConfig configures the MySQL backend
type MySQLConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// RedisConfig configures the Redis backend
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// New opens the backend selected by cfg.Type
func New(ctx context.Context, cfg *Config, log logger.Logger) (SlotStore, error) {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	log = log.Module("datastore")

	name := cfg.SlotName
	if name == "" {
		name = DefaultSlotName
	}

	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return NewNoopStore(), nil
	case TypeMemory:
		return NewMemoryStore(), nil
	case TypeFile:
		return NewFileStore(cfg.File.Path)
	case TypeSQLite:
		return OpenSQLite(cfg.SQLite.Path, name, log)
	case TypeMySQL:
		return OpenMySQL(&cfg.MySQL, name, log)
	case TypeRedis:
		return OpenRedis(ctx, &cfg.Redis, name, log)
	default:
		return nil, errors.Newf("unknown durable store type %q", cfg.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Context("type", cfg.Type).
			Build()
	}
}

// persistenceError wraps backend failures with the cache-persistence category
func persistenceError(err error, backend, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryCachePersistence).
		Context("backend", backend).
		Context("operation", operation).
		Build()
}
