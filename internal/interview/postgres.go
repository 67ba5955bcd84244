package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists interviews in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS practice_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			customer_profile TEXT NOT NULL,
			objectives JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS interviews (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			customer_profile TEXT,
			objectives JSONB,
			entries JSONB,
			recording_url TEXT,
			evaluation JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interviews_user_created ON interviews (user_id, created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const recordColumns = `id, user_id, session_id, customer_profile, objectives, entries, recording_url, evaluation, created_at, updated_at`

// Save upserts r. Absent fields arrive as NULL and COALESCE keeps the stored value.
func (s *PostgresStore) Save(ctx context.Context, r Record) ([]Record, error) {
	r, err := normalize(r)
	if err != nil {
		return nil, err
	}
	objectives, err := jsonArg(r.Objectives != nil, r.Objectives)
	if err != nil {
		return nil, err
	}
	entries, err := jsonArg(r.Entries != nil, r.Entries)
	if err != nil {
		return nil, err
	}
	evaluation, err := jsonArg(r.Evaluation != nil, r.Evaluation)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`INSERT INTO interviews AS t (id, user_id, session_id, customer_profile, objectives, entries, recording_url, evaluation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			session_id = COALESCE(NULLIF(EXCLUDED.session_id, ''), t.session_id),
			customer_profile = COALESCE(EXCLUDED.customer_profile, t.customer_profile),
			objectives = COALESCE(EXCLUDED.objectives, t.objectives),
			entries = COALESCE(EXCLUDED.entries, t.entries),
			recording_url = COALESCE(EXCLUDED.recording_url, t.recording_url),
			evaluation = COALESCE(EXCLUDED.evaluation, t.evaluation),
			updated_at = now()
		 WHERE t.user_id = EXCLUDED.user_id
		 RETURNING `+recordColumns,
		r.ID,
		r.UserID,
		r.SessionID,
		r.CustomerProfile,
		objectives,
		entries,
		r.RecordingURL,
		evaluation,
	)
	if err != nil {
		return nil, fmt.Errorf("save interview: %w", err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("save interview: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrForbidden
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM interviews WHERE id=$1`, id)
	if err != nil {
		return Record{}, fmt.Errorf("get interview: %w", err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return Record{}, fmt.Errorf("get interview: %w", err)
	}
	if len(out) == 0 {
		return Record{}, ErrNotFound
	}
	return out[0], nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM interviews WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	out, err := collectRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("list interviews: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if err := ValidateSession(sess); err != nil {
		return Session{}, err
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	sess.Objectives = CleanObjectives(sess.Objectives)
	objectives, err := json.Marshal(sess.Objectives)
	if err != nil {
		return Session{}, fmt.Errorf("marshal objectives: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO practice_sessions (id, user_id, customer_profile, objectives, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sess.ID,
		sess.UserID,
		sess.CustomerProfile,
		string(objectives),
		sess.CreatedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess       Session
		objectives []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, customer_profile, objectives, created_at FROM practice_sessions WHERE id=$1`,
		id,
	).Scan(&sess.ID, &sess.UserID, &sess.CustomerProfile, &objectives, &sess.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	if err := json.Unmarshal(objectives, &sess.Objectives); err != nil {
		return Session{}, fmt.Errorf("decode objectives: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// jsonArg encodes v for a JSONB parameter, or NULL when absent.
func jsonArg(present bool, v any) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return string(b), nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var (
			r                             Record
			objectives, entries, evalJSON []byte
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionID, &r.CustomerProfile, &objectives, &entries, &r.RecordingURL, &evalJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan interview row: %w", err)
		}
		if len(objectives) > 0 {
			if err := json.Unmarshal(objectives, &r.Objectives); err != nil {
				return nil, fmt.Errorf("decode objectives: %w", err)
			}
		}
		if len(entries) > 0 {
			if err := json.Unmarshal(entries, &r.Entries); err != nil {
				return nil, fmt.Errorf("decode entries: %w", err)
			}
		}
		if len(evalJSON) > 0 {
			r.Evaluation = &Evaluation{}
			if err := json.Unmarshal(evalJSON, r.Evaluation); err != nil {
				return nil, fmt.Errorf("decode evaluation: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interview rows: %w", err)
	}
	return out, nil
}
