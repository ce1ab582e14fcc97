package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/matheus3301/wppcrm/internal/bus"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB wraps the SQLite database backing the console: the document store the
// core reads and writes, the cache key/value area and the send journal.
type DB struct {
	*sql.DB
	bus        *bus.Bus
	logger     *zap.Logger
	cacheQuota int

	// watchers wakes subscriptions per collection.
	watchMu  sync.Mutex
	watchers map[string]map[int]chan struct{}
	watchSeq int
}

// Option configures a DB.
type Option func(*DB)

// WithBus publishes document changes on b. Without it the DB uses a private bus.
func WithBus(b *bus.Bus) Option {
	return func(db *DB) { db.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithCacheQuota caps the bytes held in the cache area. 0 means unlimited.
func WithCacheQuota(bytes int) Option {
	return func(db *DB) { db.cacheQuota = bytes }
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
// Transactions take the write lock up front so concurrent batches serialize
// instead of failing on lock upgrade.
func Open(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db := &DB{DB: sqlDB, watchers: make(map[string]map[int]chan struct{})}
	for _, opt := range opts {
		opt(db)
	}
	if db.bus == nil {
		db.bus = bus.New()
	}
	if db.logger == nil {
		db.logger = zap.NewNop()
	}
	return db, nil
}

// Bus returns the bus document changes are published on.
func (db *DB) Bus() *bus.Bus {
	return db.bus
}
