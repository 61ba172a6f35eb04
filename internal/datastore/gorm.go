package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/logger"
)

// slowQueryThreshold is when the gorm adapter starts warning
const slowQueryThreshold = 500 * time.Millisecond

// CacheSlot is the row holding a named durable slot
type CacheSlot struct {
	ID      uint      `gorm:"primaryKey"`
	Name    string    `gorm:"size:191;uniqueIndex;not null"`
	Payload []byte    `gorm:"type:longblob"`
	SavedAt time.Time `gorm:"index"`
}

// GormStore keeps the slot in a SQL table through gorm
type GormStore struct {
	db      *gorm.DB
	name    string
	backend string
	log     logger.Logger
}

// OpenSQLite opens (or creates) the SQLite database at path
func OpenSQLite(path, name string, log logger.Logger) (*GormStore, error) {
	if path == "" {
		return nil, errors.ValidationError("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistenceError(err, TypeSQLite, "open")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		log.Error("Failed to open SQLite database", logger.String("path", path), logger.Error(err))
		return nil, persistenceError(fmt.Errorf("failed to open SQLite database: %w", err), TypeSQLite, "open")
	}
	return newGormStore(db, name, TypeSQLite, log)
}

// OpenMySQL connects to the MySQL database described by cfg
func OpenMySQL(cfg *MySQLConfig, name string, log logger.Logger) (*GormStore, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, errors.ValidationError("mysql host and database are required")
	}
	port := cfg.Port
	if port == "" {
		port = "3306"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		log.Error("Failed to open MySQL database",
			logger.String("host", cfg.Host),
			logger.String("port", port),
			logger.String("database", cfg.Database),
			logger.Error(err))
		return nil, persistenceError(fmt.Errorf("failed to open MySQL database: %w", err), TypeMySQL, "open")
	}
	return newGormStore(db, name, TypeMySQL, log)
}

// NewGormStore wraps an already opened database
func NewGormStore(db *gorm.DB, name string, log logger.Logger) (*GormStore, error) {
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return newGormStore(db, name, db.Dialector.Name(), log)
}

func newGormStore(db *gorm.DB, name, backend string, log logger.Logger) (*GormStore, error) {
	if name == "" {
		name = DefaultSlotName
	}
	if err := db.AutoMigrate(&CacheSlot{}); err != nil {
		return nil, persistenceError(fmt.Errorf("failed to migrate cache slot table: %w", err), backend, "migrate")
	}
	log.Debug("Durable slot table ready", logger.String("backend", backend), logger.String("slot", name))
	return &GormStore{db: db, name: name, backend: backend, log: log}, nil
}

func (s *GormStore) Load(ctx context.Context) ([]byte, error) {
	var slot CacheSlot
	err := s.db.WithContext(ctx).Where("name = ?", s.name).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, persistenceError(err, s.backend, "load")
	}
	if len(slot.Payload) == 0 {
		return nil, ErrSlotEmpty
	}
	return slot.Payload, nil
}

func (s *GormStore) Save(ctx context.Context, payload []byte) error {
	slot := CacheSlot{Name: s.name, Payload: payload, SavedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "saved_at"}),
	}).Create(&slot).Error
	if err != nil {
		return persistenceError(err, s.backend, "save")
	}
	return nil
}

// Close closes the underlying connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistenceError(err, s.backend, "close")
	}
	if err := sqlDB.Close(); err != nil {
		s.log.Error("Failed to close database", logger.String("backend", s.backend), logger.Error(err))
		return persistenceError(err, s.backend, "close")
	}
	return nil
}
