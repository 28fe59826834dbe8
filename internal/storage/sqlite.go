package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names the SQL backend behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed width so that lexical order of the stored text equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned (wrapped) when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

type AnalysisSession struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	FinalSynthesis *string   `json:"final_synthesis,omitempty"`
}

type Response struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	QuestionIndex    int       `json:"question_index"`
	QuestionText     string    `json:"question_text"`
	TranscriptText   string    `json:"transcript_text"`
	AudioFileDriveID string    `json:"audio_file_drive_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open picks the backend from the DSN: postgres:// and postgresql:// URLs
// go to Postgres, anything else is treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return NewPostgresStore(dsn)
	}
	return NewSQLiteStore(dsn)
}

func NewSQLiteStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "interview.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, dialect: DialectSQLite}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func NewPostgresStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db, dialect: DialectPostgres}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	if s.dialect == DialectSQLite {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		}
		for _, p := range pragmas {
			if _, err := s.db.Exec(p); err != nil {
				return fmt.Errorf("apply pragma %q: %w", p, err)
			}
		}
	}

	return s.Migrate(context.Background())
}

// Migrate creates the schema if it does not exist. The DDL is shared by
// both dialects.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analysis_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			final_synthesis TEXT
		)
	`); err != nil {
		return fmt.Errorf("create analysis_sessions table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_responses (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES analysis_sessions(id) ON DELETE CASCADE,
			question_index INTEGER NOT NULL,
			question_text TEXT NOT NULL DEFAULT '',
			transcript_text TEXT NOT NULL DEFAULT '',
			audio_file_drive_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(session_id, question_index)
		)
	`); err != nil {
		return fmt.Errorf("create user_responses table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_analysis_sessions_user ON analysis_sessions(user_id, created_at)"); err != nil {
		return fmt.Errorf("create analysis_sessions index: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateSession(ctx context.Context, userID string) (AnalysisSession, error) {
	if strings.TrimSpace(userID) == "" {
		return AnalysisSession{}, errors.New("user id is required")
	}

	sess := AnalysisSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO analysis_sessions(id, user_id, created_at) VALUES(?, ?, ?)`),
		sess.ID,
		sess.UserID,
		formatTime(sess.CreatedAt),
	)
	if err != nil {
		return AnalysisSession{}, fmt.Errorf("create session for user %s: %w", userID, err)
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (AnalysisSession, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, user_id, created_at, final_synthesis FROM analysis_sessions WHERE id = ?`),
		id,
	)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisSession{}, fmt.Errorf("get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return AnalysisSession{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns the user's sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]AnalysisSession, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, user_id, created_at, final_synthesis
		 FROM analysis_sessions
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions for user %s: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]AnalysisSession, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return sessions, nil
}

// DeleteSession removes a session and, through the foreign key cascade,
// all of its responses.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM analysis_sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete session %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertResponse stores the answer for (session, question index). A second
// submission for the same pair overwrites the text and archived file id of
// the existing row and keeps its id and created_at.
func (s *Store) UpsertResponse(ctx context.Context, resp Response) (Response, error) {
	if strings.TrimSpace(resp.SessionID) == "" {
		return Response{}, errors.New("session id is required")
	}
	if resp.QuestionIndex < 0 {
		return Response{}, fmt.Errorf("invalid question index %d", resp.QuestionIndex)
	}

	now := time.Now().UTC()
	candidateID := uuid.NewString()

	row := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO user_responses(
			id, session_id, question_index, question_text, transcript_text, audio_file_drive_id, created_at, updated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, question_index) DO UPDATE SET
			question_text = excluded.question_text,
			transcript_text = excluded.transcript_text,
			audio_file_drive_id = excluded.audio_file_drive_id,
			updated_at = excluded.updated_at
		RETURNING id, created_at`),
		candidateID,
		resp.SessionID,
		resp.QuestionIndex,
		resp.QuestionText,
		resp.TranscriptText,
		resp.AudioFileDriveID,
		formatTime(now),
		formatTime(now),
	)

	var createdAt string
	if err := row.Scan(&resp.ID, &createdAt); err != nil {
		if isForeignKeyViolation(err) {
			return Response{}, fmt.Errorf("upsert response for session %s: %w", resp.SessionID, ErrNotFound)
		}
		return Response{}, fmt.Errorf("upsert response for session %s: %w", resp.SessionID, err)
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return Response{}, fmt.Errorf("parse response created_at: %w", err)
	}
	resp.CreatedAt = parsed
	resp.UpdatedAt = now
	return resp, nil
}

// ListResponses returns a session's responses ordered by question index.
func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, session_id, question_index, question_text, transcript_text, audio_file_drive_id, created_at, updated_at
		 FROM user_responses
		 WHERE session_id = ?
		 ORDER BY question_index ASC`),
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query responses for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	responses := make([]Response, 0, 10)
	for rows.Next() {
		var r Response
		var createdAt, updatedAt string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QuestionIndex, &r.QuestionText, &r.TranscriptText, &r.AudioFileDriveID, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan response for session %s: %w", sessionID, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse response created_at for session %s: %w", sessionID, err)
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("parse response updated_at for session %s: %w", sessionID, err)
		}
		responses = append(responses, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate response rows for session %s: %w", sessionID, err)
	}

	return responses, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (AnalysisSession, error) {
	var sess AnalysisSession
	var createdAt string
	var synthesis sql.NullString
	if err := row.Scan(&sess.ID, &sess.UserID, &createdAt, &synthesis); err != nil {
		return AnalysisSession{}, err
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return AnalysisSession{}, fmt.Errorf("parse session %s created_at: %w", sess.ID, err)
	}
	sess.CreatedAt = parsed

	if synthesis.Valid {
		text := synthesis.String
		sess.FinalSynthesis = &text
	}
	return sess, nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(timeLayout, raw)
}
