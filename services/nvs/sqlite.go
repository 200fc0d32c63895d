//go:build !tinygo

package nvs

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pwmlight-go/errcode"
)

// SQLite keeps a partition in a SQLite file. MaxEntries, when non-zero,
// plays the role of the page budget.
type SQLite struct {
	Path       string
	MaxEntries int
}

var _ Flash = (*SQLite)(nil)

func NewSQLite(path string) *SQLite { return &SQLite{Path: path} }

func (f *SQLite) open() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", f.Path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("nvs: open %s: %w", f.Path, err)
	}
	// One writer keeps WAL checkpoints simple.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (f *SQLite) Open() (Store, error) {
	db, err := f.open()
	if err != nil {
		return nil, err
	}
	if err := f.check(db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqlStore{db: db, max: f.MaxEntries}, nil
}

// check creates the schema on a blank file and validates an existing one.
func (f *SQLite) check(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS kv (
			ns TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (ns, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("nvs: schema: %w", err)
	}

	var v string
	err = db.QueryRow(`SELECT value FROM meta WHERE key = 'format'`).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.Exec(`INSERT INTO meta (key, value) VALUES ('format', ?)`, strconv.Itoa(FormatVersion)); err != nil {
			return fmt.Errorf("nvs: stamp format: %w", err)
		}
	case err != nil:
		return fmt.Errorf("nvs: read format: %w", err)
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n > FormatVersion {
			return errcode.NVSNewVersionFound
		}
	}

	if f.MaxEntries > 0 {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
			return fmt.Errorf("nvs: count: %w", err)
		}
		if n >= f.MaxEntries {
			return errcode.NVSNoFreePages
		}
	}
	return nil
}

// Erase drops both tables; the next Open starts from a blank partition.
func (f *SQLite) Erase() error {
	db, err := f.open()
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Exec(`DROP TABLE IF EXISTS kv; DROP TABLE IF EXISTS meta;`); err != nil {
		return fmt.Errorf("nvs: erase: %w", err)
	}
	return nil
}

// Stamp overwrites the stored format version.
func (f *SQLite) Stamp(version int) error {
	db, err := f.open()
	if err != nil {
		return err
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO meta (key, value) VALUES ('format', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, strconv.Itoa(version))
	return err
}

type sqlStore struct {
	mu  sync.Mutex
	db  *sql.DB
	max int
}

func (s *sqlStore) Get(ns, key string) ([]byte, error) {
	if err := checkName(ns, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errcode.NVSNotInitialised
	}
	var v []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE ns = ? AND key = ?`, ns, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcode.NVSNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("nvs: get %s/%s: %w", ns, key, err)
	}
	return v, nil
}

func (s *sqlStore) Set(ns, key string, val []byte) error {
	if err := checkName(ns, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errcode.NVSNotInitialised
	}
	if s.max > 0 {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM kv WHERE NOT (ns = ? AND key = ?)`, ns, key).Scan(&n)
		if err != nil {
			return fmt.Errorf("nvs: count: %w", err)
		}
		if n >= s.max {
			return errcode.NVSNoFreePages
		}
	}
	if val == nil {
		val = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO kv (ns, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ns, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, ns, key, val, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("nvs: set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *sqlStore) Delete(ns, key string) error {
	if err := checkName(ns, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errcode.NVSNotInitialised
	}
	res, err := s.db.Exec(`DELETE FROM kv WHERE ns = ? AND key = ?`, ns, key)
	if err != nil {
		return fmt.Errorf("nvs: delete %s/%s: %w", ns, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcode.NVSNotFound
	}
	return nil
}

func (s *sqlStore) EraseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errcode.NVSNotInitialised
	}
	if _, err := s.db.Exec(`DELETE FROM kv`); err != nil {
		return fmt.Errorf("nvs: erase all: %w", err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
