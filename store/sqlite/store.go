// Package sqlite implements the durable cache tier on a local SQLite file.
//
// Two record spaces back the tier: the chunks table (primary key
// "<collectionID>_chunk_<chunkID>", secondary indexes on collection id and
// write timestamp) and the metadata table (primary key id) reserved for
// cross-session bookkeeping. Expired records are removed lazily on read and
// in bulk by a background sweeper, so storage stays bounded either way.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/morisy/big-inbox/store"
	_ "modernc.org/sqlite"
)

// schemaVersion is fixed at open time. A bump requires a migration path,
// which is the build pipeline's responsibility, not this tier's.
const schemaVersion = 1

const schemaVersionKey = "schema_version"

type options struct {
	ttl           time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the store.
type Option func(*options)

// WithTTL overrides the record time-to-live (default store.DefaultTTL).
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithSweepInterval overrides the background sweep cadence
// (default store.DefaultSweepInterval). Zero or negative disables the
// background sweeper; lazy deletion on read still applies.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithLogger sets the logger for background sweep results.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Store provides SQLite-backed persistence for chunk cache records.
type Store struct {
	sqlDB  *sql.DB
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	stop      chan struct{}
	sweeperWG sync.WaitGroup
	closeOnce sync.Once
}

// Open opens or creates the store at path. Any failure to open or migrate is
// reported as store.ErrUnavailable; callers degrade to memory-only operation.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		ttl:           store.DefaultTTL,
		sweepInterval: store.DefaultSweepInterval,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage path is required", store.ErrUnavailable)
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", store.ErrUnavailable, err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping: %v", store.ErrUnavailable, err)
	}

	s := &Store{
		sqlDB:  sqlDB,
		ttl:    o.ttl,
		logger: o.logger,
		now:    o.now,
		stop:   make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %v", store.ErrUnavailable, err)
	}

	if o.sweepInterval > 0 {
		s.sweeperWG.Add(1)
		go s.sweepLoop(o.sweepInterval)
	}

	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id            TEXT PRIMARY KEY,
			collection_id TEXT NOT NULL,
			chunk_id      INTEGER NOT NULL,
			data          BLOB NOT NULL,
			timestamp     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_timestamp ON chunks(timestamp)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			id    TEXT PRIMARY KEY,
			value BLOB
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.sqlDB.Exec(stmt); err != nil {
			return err
		}
	}

	// Record or verify the schema version. Newer on-disk schemas need a
	// migration supplied by whoever bumped the version.
	var raw []byte
	err := s.sqlDB.QueryRow(`SELECT value FROM metadata WHERE id = ?`, schemaVersionKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.sqlDB.Exec(
			`INSERT INTO metadata (id, value) VALUES (?, ?)`,
			schemaVersionKey, fmt.Sprintf("%d", schemaVersion),
		)
		return err
	case err != nil:
		return err
	}

	var found int
	if _, err := fmt.Sscanf(string(raw), "%d", &found); err != nil {
		return fmt.Errorf("unreadable schema version %q", raw)
	}
	if found != schemaVersion {
		return fmt.Errorf("schema version %d, expected %d", found, schemaVersion)
	}
	return nil
}

// Get returns the stored chunk payload. Expired records are deleted and
// reported as misses, not as errors.
func (s *Store) Get(ctx context.Context, collectionID string, chunkID int) ([]byte, bool, error) {
	key := store.RecordKey(collectionID, chunkID)

	var data []byte
	var stamp int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT data, timestamp FROM chunks WHERE id = ?`,
		key,
	).Scan(&data, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", store.ErrReadFailed, err)
	}

	if s.now().Sub(time.UnixMilli(stamp)) > s.ttl {
		if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, key); err != nil {
			s.logger.Warn("delete expired chunk record", "key", key, "error", err)
		}
		return nil, false, nil
	}

	return data, true, nil
}

// Put upserts the chunk payload and stamps the current time.
func (s *Store) Put(ctx context.Context, collectionID string, chunkID int, data []byte) error {
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO chunks (id, collection_id, chunk_id, data, timestamp)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`,
		store.RecordKey(collectionID, chunkID), collectionID, chunkID, data, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWriteFailed, err)
	}
	return nil
}

// Delete removes a single chunk record.
func (s *Store) Delete(ctx context.Context, collectionID string, chunkID int) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, store.RecordKey(collectionID, chunkID))
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWriteFailed, err)
	}
	return nil
}

// SweepExpired bulk-removes every record older than the TTL via the
// timestamp index and returns the number removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl).UnixMilli()

	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM chunks WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrWriteFailed, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// PutMeta upserts a record in the metadata record space.
func (s *Store) PutMeta(ctx context.Context, id string, value []byte) error {
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO metadata (id, value) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET value = excluded.value`,
		id, value,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrWriteFailed, err)
	}
	return nil
}

// GetMeta loads a record from the metadata record space.
func (s *Store) GetMeta(ctx context.Context, id string) ([]byte, bool, error) {
	var value []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM metadata WHERE id = ?`, id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", store.ErrReadFailed, err)
	}
	return value, true, nil
}

// Stats returns current tier statistics.
func (s *Store) Stats() store.Stats {
	var count int
	if err := s.sqlDB.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		s.logger.Warn("count chunk records", "error", err)
	}
	return store.Stats{
		ChunksStored: count,
		ExpiryDays:   int(s.ttl / (24 * time.Hour)),
	}
}

// Close stops the background sweeper and releases the SQLite connection.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.sweeperWG.Wait()
		err = s.sqlDB.Close()
	})
	return err
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer s.sweeperWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			n, err := s.SweepExpired(context.Background())
			if err != nil {
				s.logger.Warn("sweep expired chunk records", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("swept expired chunk records", "removed", n)
			}
		}
	}
}

var _ store.Tier = (*Store)(nil)
var _ store.MetadataStore = (*Store)(nil)
