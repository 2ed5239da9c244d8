package transcript

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDB stores the transcripts of every session in one SQLite file.
type SQLiteDB struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the transcript database at path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteDB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("transcript archive opened", "path", path)
	return s, nil
}

func (s *SQLiteDB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			images_urls TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL,
			generation INTEGER NOT NULL DEFAULT 0,
			UNIQUE(session_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript_entries(session_id, seq)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Archive returns the archive view of one session.
func (s *SQLiteDB) Archive(sessionID string) Archive {
	return &sqliteArchive{db: s, sessionID: sessionID}
}

// Sessions lists session ids that have archived entries.
func (s *SQLiteDB) Sessions() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT session_id FROM transcript_entries ORDER BY session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type sqliteArchive struct {
	db        *SQLiteDB
	sessionID string
}

func (a *sqliteArchive) Load() ([]Entry, error) {
	rows, err := a.db.db.Query(`SELECT id, role, content, images_urls, created_at, generation
		FROM transcript_entries WHERE session_id = ? ORDER BY seq`, a.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			role    string
			atts    string
			created int64
		)
		if err := rows.Scan(&e.ID, &role, &e.Content, &atts, &created, &e.Generation); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		e.Role = Role(role)
		e.Timestamp = time.UnixMilli(created)
		if err := json.Unmarshal([]byte(atts), &e.Attachments); err != nil {
			slog.Warn("transcript archive: bad attachments", "id", e.ID, "error", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (a *sqliteArchive) Save(e Entry) error {
	atts, err := marshalAttachments(e.Attachments)
	if err != nil {
		return err
	}

	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	_, err = a.db.db.Exec(`INSERT OR REPLACE INTO transcript_entries
		(session_id, id, role, content, images_urls, created_at, generation)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.sessionID, e.ID, string(e.Role), e.Content, atts, e.Timestamp.UnixMilli(), e.Generation)
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	return nil
}

func (a *sqliteArchive) Update(e Entry) error {
	atts, err := marshalAttachments(e.Attachments)
	if err != nil {
		return err
	}

	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	_, err = a.db.db.Exec(`UPDATE transcript_entries SET images_urls = ? WHERE session_id = ? AND id = ?`,
		atts, a.sessionID, e.ID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

func (a *sqliteArchive) Clear() error {
	a.db.mu.Lock()
	defer a.db.mu.Unlock()
	if _, err := a.db.db.Exec(`DELETE FROM transcript_entries WHERE session_id = ?`, a.sessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func marshalAttachments(atts []string) (string, error) {
	if atts == nil {
		atts = []string{}
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return "", fmt.Errorf("marshal attachments: %w", err)
	}
	return string(b), nil
}
