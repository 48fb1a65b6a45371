// Package sqlite provides the embedded durable backend. It reuses the
// in-memory transactional engine and snapshots the full state to a single
// SQLite table as JSON blobs after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"expirycore/internal/infra/persistence/memory"
	"expirycore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to SQLite. All transactional semantics
// come from the embedded memory store; this layer only adds durability.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store and
// hydrates it from any existing database file.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "expirycore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, domain.StorageError{Op: "create dirs", Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.StorageError{Op: "open sqlite", Err: err}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, domain.StorageError{Op: "create state table", Err: err}
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

const (
	bucketProducts   = "products"
	bucketStores     = "stores"
	bucketCategories = "categories"
)

var buckets = []string{bucketProducts, bucketStores, bucketCategories}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.StorageError{Op: "select state", Err: err}
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.StorageError{Op: "scan state", Err: err}
		}
		loaded = true
		switch bucket {
		case bucketProducts:
			if err := json.Unmarshal(payload, &snapshot.Products); err != nil {
				return domain.StorageError{Op: "decode products", Err: err}
			}
		case bucketStores:
			if err := json.Unmarshal(payload, &snapshot.Stores); err != nil {
				return domain.StorageError{Op: "decode stores", Err: err}
			}
		case bucketCategories:
			if err := json.Unmarshal(payload, &snapshot.Categories); err != nil {
				return domain.StorageError{Op: "decode categories", Err: err}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.StorageError{Op: "iterate state", Err: err}
	}
	if !loaded {
		return nil
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return domain.StorageError{Op: "begin snapshot", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		var data []byte
		switch bucket {
		case bucketProducts:
			data, err = json.Marshal(snapshot.Products)
		case bucketStores:
			data, err = json.Marshal(snapshot.Stores)
		case bucketCategories:
			data, err = json.Marshal(snapshot.Categories)
		}
		if err != nil {
			retErr = domain.StorageError{Op: fmt.Sprintf("encode %s", bucket), Err: err}
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = domain.StorageError{Op: fmt.Sprintf("upsert %s", bucket), Err: err}
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.StorageError{Op: "commit snapshot", Err: err}
	}
	return nil
}

// RunInTransaction applies fn within a transaction, then snapshots state to
// SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, pErr
	}
	return res, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
