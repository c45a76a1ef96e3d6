// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides durable interview/session persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS transport_sessions (
			slot_id    TEXT PRIMARY KEY,
			provider   TEXT NOT NULL,
			identity   TEXT NOT NULL DEFAULT '',
			blob       BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS candidates (
			id           TEXT PRIMARY KEY,
			client_id    TEXT NOT NULL,
			name         TEXT NOT NULL,
			phone        TEXT NOT NULL,
			phone_digits TEXT NOT NULL,
			created_at   DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_candidates_phone_digits
			ON candidates(phone_digits);

		CREATE TABLE IF NOT EXISTS jobs (
			id        TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			title     TEXT NOT NULL,
			company   TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS questions (
			job_id       TEXT NOT NULL,
			number       INTEGER NOT NULL,
			prompt       TEXT NOT NULL,
			ideal_answer TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, number),
			FOREIGN KEY (job_id) REFERENCES jobs(id)
		);

		CREATE TABLE IF NOT EXISTS interviews (
			id             TEXT PRIMARY KEY,
			candidate_id   TEXT NOT NULL,
			job_id         TEXT NOT NULL,
			token          TEXT NOT NULL UNIQUE,
			status         TEXT NOT NULL,
			question_index INTEGER NOT NULL DEFAULT 0,
			started_at     DATETIME,
			completed_at   DATETIME,
			created_at     DATETIME NOT NULL,
			FOREIGN KEY (candidate_id) REFERENCES candidates(id),
			FOREIGN KEY (job_id) REFERENCES jobs(id),
			CHECK (status IN ('invited', 'accepted', 'declined', 'in_progress', 'completed', 'cancelled'))
		);

		CREATE INDEX IF NOT EXISTS idx_interviews_candidate
			ON interviews(candidate_id, created_at);

		CREATE TABLE IF NOT EXISTS responses (
			id             TEXT PRIMARY KEY,
			interview_id   TEXT NOT NULL,
			question_index INTEGER NOT NULL,
			transcript     TEXT NOT NULL,
			audio_path     TEXT NOT NULL DEFAULT '',
			score          INTEGER NOT NULL,
			created_at     DATETIME NOT NULL,
			FOREIGN KEY (interview_id) REFERENCES interviews(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_responses_interview_question
			ON responses(interview_id, question_index);

		CREATE TABLE IF NOT EXISTS message_log (
			id         TEXT PRIMARY KEY,
			direction  TEXT NOT NULL,
			channel    TEXT NOT NULL,
			peer       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_message_log_peer
			ON message_log(peer, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTransportSession persists a slot's credential blob. Idempotent
// upsert: credential-update events may repeat after a crash.
func (s *SQLiteStore) SaveTransportSession(ctx context.Context, session *TransportSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transport_sessions (slot_id, provider, identity, blob, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slot_id) DO UPDATE SET
			provider = excluded.provider,
			identity = excluded.identity,
			blob = excluded.blob,
			updated_at = excluded.updated_at`,
		session.SlotID, session.Provider, session.Identity, session.Blob, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving transport session: %w", err)
	}
	return nil
}

// GetTransportSession retrieves a slot's persisted session, or ErrNotFound
func (s *SQLiteStore) GetTransportSession(ctx context.Context, slotID string) (*TransportSession, error) {
	session := &TransportSession{}
	err := s.db.QueryRowContext(ctx, `
		SELECT slot_id, provider, identity, blob, updated_at
		FROM transport_sessions WHERE slot_id = ?`, slotID).
		Scan(&session.SlotID, &session.Provider, &session.Identity, &session.Blob, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting transport session: %w", err)
	}
	return session, nil
}

// DeleteTransportSession removes a slot's persisted session. Deleting a
// missing session is not an error.
func (s *SQLiteStore) DeleteTransportSession(ctx context.Context, slotID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM transport_sessions WHERE slot_id = ?", slotID); err != nil {
		return fmt.Errorf("deleting transport session: %w", err)
	}
	return nil
}

// CreateCandidate inserts a new candidate
func (s *SQLiteStore) CreateCandidate(ctx context.Context, candidate *Candidate) error {
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, client_id, name, phone, phone_digits, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		candidate.ID, candidate.ClientID, candidate.Name, candidate.Phone,
		digitsOnly(candidate.Phone), candidate.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating candidate: %w", err)
	}
	return nil
}

// GetCandidate retrieves a candidate by id, or ErrNotFound
func (s *SQLiteStore) GetCandidate(ctx context.Context, id string) (*Candidate, error) {
	candidate := &Candidate{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, name, phone, created_at
		FROM candidates WHERE id = ?`, id).
		Scan(&candidate.ID, &candidate.ClientID, &candidate.Name, &candidate.Phone, &candidate.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting candidate: %w", err)
	}
	return candidate, nil
}

// FindCandidateByPhone resolves a candidate by normalized phone digits.
// Stored numbers may include or omit the country code, so the match is a
// suffix/substring check in both directions.
func (s *SQLiteStore) FindCandidateByPhone(ctx context.Context, digits string) (*Candidate, error) {
	digits = digitsOnly(digits)
	if digits == "" {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, name, phone, phone_digits, created_at FROM candidates`)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		candidate := &Candidate{}
		var stored string
		if err := rows.Scan(&candidate.ID, &candidate.ClientID, &candidate.Name,
			&candidate.Phone, &stored, &candidate.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning candidate: %w", err)
		}
		if stored == "" {
			continue
		}
		if strings.Contains(stored, digits) || strings.Contains(digits, stored) {
			return candidate, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidates: %w", err)
	}
	return nil, ErrNotFound
}

// CreateJob inserts a new job
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, client_id, title, company) VALUES (?, ?, ?, ?)`,
		job.ID, job.ClientID, job.Title, job.Company)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by id, or ErrNotFound
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, client_id, title, company FROM jobs WHERE id = ?", id).
		Scan(&job.ID, &job.ClientID, &job.Title, &job.Company)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// SetQuestions replaces the ordered question list for a job
func (s *SQLiteStore) SetQuestions(ctx context.Context, jobID string, questions []*Question) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM questions WHERE job_id = ?", jobID); err != nil {
		return fmt.Errorf("clearing questions: %w", err)
	}
	for _, q := range questions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO questions (job_id, number, prompt, ideal_answer)
			VALUES (?, ?, ?, ?)`,
			jobID, q.Number, q.Prompt, q.IdealAnswer); err != nil {
			return fmt.Errorf("inserting question %d: %w", q.Number, err)
		}
	}
	return tx.Commit()
}

// GetQuestions returns a job's questions ordered by number
func (s *SQLiteStore) GetQuestions(ctx context.Context, jobID string) ([]*Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, number, prompt, ideal_answer
		FROM questions WHERE job_id = ? ORDER BY number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("getting questions: %w", err)
	}
	defer rows.Close()

	var questions []*Question
	for rows.Next() {
		q := &Question{}
		if err := rows.Scan(&q.JobID, &q.Number, &q.Prompt, &q.IdealAnswer); err != nil {
			return nil, fmt.Errorf("scanning question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// CreateInterview inserts a new interview session
func (s *SQLiteStore) CreateInterview(ctx context.Context, interview *Interview) error {
	if interview.CreatedAt.IsZero() {
		interview.CreatedAt = time.Now().UTC()
	}
	if interview.Status == "" {
		interview.Status = InterviewStatusInvited
	}

	// One active interview per (candidate, job) pair
	var existing int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM interviews
		WHERE candidate_id = ? AND job_id = ?
		AND status NOT IN ('completed', 'declined', 'cancelled')`,
		interview.CandidateID, interview.JobID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("checking existing interview: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateInterview
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interviews (id, candidate_id, job_id, token, status, question_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		interview.ID, interview.CandidateID, interview.JobID, interview.Token,
		interview.Status, interview.QuestionIndex, interview.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating interview: %w", err)
	}
	return nil
}

// GetInterview retrieves an interview by id, or ErrNotFound
func (s *SQLiteStore) GetInterview(ctx context.Context, id string) (*Interview, error) {
	return s.getInterview(ctx, "id = ?", id)
}

// GetInterviewByToken retrieves an interview by its link token, or ErrNotFound
func (s *SQLiteStore) GetInterviewByToken(ctx context.Context, token string) (*Interview, error) {
	return s.getInterview(ctx, "token = ?", token)
}

// GetActiveInterviewByCandidate returns the most recent interview for a
// candidate that has not reached a terminal decline/cancel state.
func (s *SQLiteStore) GetActiveInterviewByCandidate(ctx context.Context, candidateID string) (*Interview, error) {
	return s.getInterview(ctx,
		"candidate_id = ? AND status NOT IN ('declined', 'cancelled') ORDER BY created_at DESC LIMIT 1",
		candidateID)
}

func (s *SQLiteStore) getInterview(ctx context.Context, where string, args ...any) (*Interview, error) {
	interview := &Interview{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, candidate_id, job_id, token, status, question_index, started_at, completed_at, created_at
		FROM interviews WHERE `+where, args...).
		Scan(&interview.ID, &interview.CandidateID, &interview.JobID, &interview.Token,
			&interview.Status, &interview.QuestionIndex,
			&interview.StartedAt, &interview.CompletedAt, &interview.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting interview: %w", err)
	}
	return interview, nil
}

// UpdateInterviewState commits a status/index transition. The committed
// question index never decreases; a stale update is a silent no-op so that
// replayed events stay idempotent. started_at is stamped on the first
// in_progress transition and completed_at when the interview completes.
func (s *SQLiteStore) UpdateInterviewState(ctx context.Context, id, status string, questionIndex int) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE interviews SET
			status = ?,
			question_index = ?,
			started_at = CASE WHEN ? = 'in_progress' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? = 'completed' AND completed_at IS NULL THEN ? ELSE completed_at END
		WHERE id = ? AND question_index <= ?`,
		status, questionIndex, status, now, status, now, id, questionIndex)
	if err != nil {
		return fmt.Errorf("updating interview state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		// Either unknown id or a stale (lower-index) update
		if _, err := s.GetInterview(ctx, id); err != nil {
			return err
		}
		s.logger.Debug("stale interview state update ignored",
			"interview_id", id, "status", status, "question_index", questionIndex)
	}
	return nil
}

// AppendResponse records an answered question. The unique
// (interview_id, question_index) index makes duplicate deliveries a no-op;
// the returned bool reports whether a new row was actually written.
func (s *SQLiteStore) AppendResponse(ctx context.Context, response *Response) (bool, error) {
	if response.CreatedAt.IsZero() {
		response.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO responses (id, interview_id, question_index, transcript, audio_path, score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		response.ID, response.InterviewID, response.QuestionIndex,
		response.Transcript, response.AudioPath, response.Score, response.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("appending response: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking response insert: %w", err)
	}
	return affected > 0, nil
}

// GetResponses returns an interview's responses ordered by question index
func (s *SQLiteStore) GetResponses(ctx context.Context, interviewID string) ([]*Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, interview_id, question_index, transcript, audio_path, score, created_at
		FROM responses WHERE interview_id = ? ORDER BY question_index`, interviewID)
	if err != nil {
		return nil, fmt.Errorf("getting responses: %w", err)
	}
	defer rows.Close()

	var responses []*Response
	for rows.Next() {
		r := &Response{}
		if err := rows.Scan(&r.ID, &r.InterviewID, &r.QuestionIndex,
			&r.Transcript, &r.AudioPath, &r.Score, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning response: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// AppendMessageLog records a transport event for diagnostics
func (s *SQLiteStore) AppendMessageLog(ctx context.Context, entry *MessageLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_log (id, direction, channel, peer, kind, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Direction, entry.Channel, entry.Peer, entry.Kind, entry.Status, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending message log: %w", err)
	}
	return nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
