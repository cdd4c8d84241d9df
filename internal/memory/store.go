package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

// Store persists memories in SQLite through GORM.
type Store struct {
	db *gorm.DB
}

// NewStore opens (or creates) the memory database at path.
func NewStore(path string) (*Store, error) {
	sqliteDB, err := sql.Open("sqlite", path+"?_journal=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	sqliteDB.SetMaxOpenConns(4)
	sqliteDB.SetMaxIdleConns(2)
	sqliteDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&Item{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying GORM handle for maintenance jobs.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Save inserts a memory.
func (s *Store) Save(item *Item) error {
	if err := s.db.Create(item).Error; err != nil {
		return apperrors.Wrap(err, "MEMORY_002", "failed to save memory")
	}
	return nil
}

// Get retrieves a memory by ID.
func (s *Store) Get(id string) (*Item, error) {
	var item Item
	if err := s.db.First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New("MEMORY_001", "memory not found: "+id)
		}
		return nil, apperrors.Wrap(err, "MEMORY_002", "failed to load memory")
	}
	return &item, nil
}

// ListAll returns every memory in insertion order.
func (s *Store) ListAll() ([]Item, error) {
	var items []Item
	if err := s.db.Order("seq ASC").Find(&items).Error; err != nil {
		return nil, apperrors.Wrap(err, "MEMORY_002", "failed to list memories")
	}
	return items, nil
}

// GetByKind returns memories of one kind in insertion order.
func (s *Store) GetByKind(kind string) ([]Item, error) {
	var items []Item
	if err := s.db.Where("kind = ?", kind).Order("seq ASC").Find(&items).Error; err != nil {
		return nil, apperrors.Wrap(err, "MEMORY_002", "failed to list memories")
	}
	return items, nil
}

// Delete removes a memory by ID.
func (s *Store) Delete(id string) error {
	result := s.db.Delete(&Item{}, "id = ?", id)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "MEMORY_002", "failed to delete memory")
	}
	if result.RowsAffected == 0 {
		return apperrors.New("MEMORY_001", "memory not found: "+id)
	}
	return nil
}

// TouchAccess bumps access counters for the given IDs.
func (s *Store) TouchAccess(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Model(&Item{}).
		Where("id IN ?", ids).
		UpdateColumn("access_count", gorm.Expr("access_count + 1")).Error
}

// Count returns the total number of memories.
func (s *Store) Count() (int64, error) {
	var count int64
	err := s.db.Model(&Item{}).Count(&count).Error
	return count, err
}

// PruneStale deletes low-importance memories that have never been recalled
// and are older than the cutoff. Used by the maintenance job.
func (s *Store) PruneStale(olderThan time.Time, maxImportance float64) (int64, error) {
	result := s.db.
		Where("access_count = 0 AND importance < ? AND created_at < ?", maxImportance, olderThan).
		Delete(&Item{})
	return result.RowsAffected, result.Error
}
