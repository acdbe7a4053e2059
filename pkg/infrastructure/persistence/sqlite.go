package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/logger"
)

// SQLiteSessionStore keeps session export records in a SQLite database.
// Indexed columns are kept next to a CBOR blob of the full record.
type SQLiteSessionStore struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLiteSessionStore opens (or creates) the database at dbPath and
// applies the schema.
func OpenSQLiteSessionStore(dbPath string) (*SQLiteSessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	s := &SQLiteSessionStore{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	logger.InfoCF("persistence", "Session store opened", map[string]interface{}{
		"db_path": dbPath,
	})
	return s, nil
}

func (s *SQLiteSessionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		record        BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteSessionStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteSessionStore) FindByID(id string) (*sessiondomain.Export, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT record FROM sessions WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessiondomain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session %s: %w", id, err)
	}

	var e sessiondomain.Export
	if err := unmarshalRecord(blob, &e); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &e, nil
}

// FindAll returns every record ordered by creation time. Records that fail
// to decode are logged and skipped.
func (s *SQLiteSessionStore) FindAll() ([]sessiondomain.Export, error) {
	rows, err := s.db.Query(`SELECT id, record FROM sessions ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []sessiondomain.Export
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var e sessiondomain.Export
		if err := unmarshalRecord(blob, &e); err != nil {
			logger.WarnCF("persistence", "Skipping undecodable session record", map[string]interface{}{
				"session_id": id,
				"error":      err.Error(),
			})
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteSessionStore) Save(e sessiondomain.Export) error {
	if e.ID == "" {
		return sessiondomain.ErrMissingID
	}
	blob, err := marshalRecord(e)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", e.ID, err)
	}

	updated := e.CreatedAt
	if e.UpdatedAt != nil {
		updated = *e.UpdatedAt
	}
	_, err = s.db.Exec(`
		INSERT INTO sessions (id, name, created_at, updated_at, message_count, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at,
			message_count = excluded.message_count,
			record = excluded.record`,
		e.ID, e.Name, formatTime(e.CreatedAt), formatTime(updated), len(e.Messages), blob)
	if err != nil {
		return fmt.Errorf("save session %s: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteSessionStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sessiondomain.ErrSessionNotFound
	}
	return nil
}

// Count returns the number of stored sessions.
func (s *SQLiteSessionStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// formatTime renders t so that lexical order matches time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// Verify interface compliance at compile time.
var _ sessiondomain.Repository = (*SQLiteSessionStore)(nil)
