package services

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DurableStore is the on-device persistent tier for compressed candle
// series. Keys follow the "<symbol>_<timeframe>" convention; values are
// packed series blobs with a write timestamp. Entries past their TTL
// are pruned lazily on the next load attempt.
type DurableStore struct {
	db  *sql.DB
	ttl time.Duration
	mu  sync.RWMutex
}

// ErrSeriesNotFound reports a durable-tier miss (absent, expired, or
// undecodable entry).
var ErrSeriesNotFound = fmt.Errorf("series not found")

// NewDurableStore opens (creating if needed) the SQLite store at path.
func NewDurableStore(path string, ttl time.Duration) (*DurableStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping durable store: %w", err)
	}

	store := &DurableStore{db: db, ttl: ttl}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("Durable series store initialized at %s", path)
	return store, nil
}

// Close closes the underlying database.
func (s *DurableStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *DurableStore) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		CREATE TABLE IF NOT EXISTS chart_series (
			key VARCHAR PRIMARY KEY,
			packed BLOB NOT NULL,
			written_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create chart_series table: %w", err)
	}
	return nil
}

// Save writes a packed series blob under the given key, replacing any
// previous entry.
func (s *DurableStore) Save(key string, packed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT OR REPLACE INTO chart_series (key, packed, written_at) VALUES (?, ?, ?)`
	if _, err := s.db.Exec(query, key, packed, time.Now()); err != nil {
		return fmt.Errorf("failed to save series %s: %w", key, err)
	}
	return nil
}

// Load returns the packed blob for a key if present and within TTL.
// Expired entries are deleted on the way out and reported as a miss.
func (s *DurableStore) Load(key string) ([]byte, error) {
	s.mu.RLock()
	var packed []byte
	var writtenAt time.Time
	err := s.db.QueryRow(
		"SELECT packed, written_at FROM chart_series WHERE key = ?", key,
	).Scan(&packed, &writtenAt)
	s.mu.RUnlock()

	if err == sql.ErrNoRows {
		return nil, ErrSeriesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load series %s: %w", key, err)
	}

	if time.Since(writtenAt) > s.ttl {
		if delErr := s.Delete(key); delErr != nil {
			log.Printf("Warning: failed to prune expired series %s: %v", key, delErr)
		}
		return nil, ErrSeriesNotFound
	}
	return packed, nil
}

// Delete removes one entry.
func (s *DurableStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM chart_series WHERE key = ?", key)
	return err
}

// PruneExpired removes every entry older than the TTL. Returns the
// number of rows removed.
func (s *DurableStore) PruneExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.ttl)
	res, err := s.db.Exec("DELETE FROM chart_series WHERE written_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired series: %w", err)
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

// Count returns the number of stored series.
func (s *DurableStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chart_series").Scan(&count)
	return count, err
}
