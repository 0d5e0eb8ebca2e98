// Package sqlstore implements storage.Store over a relational database with
// gorm. Uniqueness of trees, invitations, commitments and nullifiers is
// enforced with primary keys and unique indexes. Tree rows are locked for
// update inside write transactions on dialects that support row locks, and
// every tree update is conditional on the version read, so a lost update is
// detected as types.ErrTreeStale instead of silently dropping a leaf.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocdoni/zksurvey/log"
	"github.com/vocdoni/zksurvey/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLStore is the gorm implementation of storage.Store.
type SQLStore struct {
	db *gorm.DB
}

var _ storage.Store = (*SQLStore)(nil)

// OpenSQLite opens (or creates) the SQLite database at dsn and migrates the
// schema.
func OpenSQLite(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// sqlite allows a single writer, serialize at the pool level so write
	// transactions queue instead of failing with SQLITE_BUSY
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an opened gorm connection and migrates the schema.
func New(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&treeRow{}, &invitationRow{}, &commitmentRow{}, &nullifierRow{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	log.Debugw("sql store ready", "dialect", db.Dialector.Name())
	return &SQLStore{db: db}, nil
}

// Update runs fn inside a database transaction.
func (s *SQLStore) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{sqlReader: sqlReader{db: tx, lock: supportsRowLocks(tx)}})
	})
}

// View runs fn inside a read-only database transaction, so every read
// observes the same snapshot.
func (s *SQLStore) View(ctx context.Context, fn func(storage.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errRollback := errors.New("read-only transaction")
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&sqlReader{db: tx})
		return errRollback
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil && !errors.Is(err, errRollback) {
		return err
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// supportsRowLocks reports whether SELECT ... FOR UPDATE can be used. SQLite
// has no row locks, but its write transactions are already exclusive.
func supportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() != "sqlite"
}
