// Package store handles SQLite persistence of capture attempts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verte-zerg/keyrhythm/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// timeLayout keeps timestamps fixed-width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps SQLite access for attempt history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY,
			attempt_id TEXT NOT NULL UNIQUE,
			identity TEXT NOT NULL,
			intent TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			feature_count INTEGER NOT NULL,
			expected_count INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			decision TEXT NOT NULL,
			model_type TEXT NOT NULL,
			typing_speed REAL NOT NULL,
			message TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attempt_features (
			attempt_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (attempt_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_ended_at ON attempts(ended_at);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_identity ON attempts(identity);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertAttempt stores an attempt and, when present, the submitted vector.
// A missing ID is filled with a new UUID, which is returned.
func (s *Store) InsertAttempt(ctx context.Context, a model.Attempt, v model.FeatureVector) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (attempt_id, identity, intent, started_at, ended_at, feature_count, expected_count, outcome, decision, model_type, typing_speed, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Identity,
		string(a.Intent),
		a.StartedAt.UTC().Format(timeLayout),
		a.EndedAt.UTC().Format(timeLayout),
		a.FeatureCount,
		a.ExpectedCount,
		string(a.Outcome),
		string(a.Decision),
		a.ModelType,
		a.TypingSpeed,
		a.Message,
	)
	if err != nil {
		return "", err
	}

	if len(v) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx,
			`INSERT INTO attempt_features (attempt_id, position, value) VALUES (?, ?, ?)`)
		if err != nil {
			return "", err
		}
		defer func() {
			if cerr := stmt.Close(); cerr != nil {
				// Best-effort statement close.
				_ = cerr
			}
		}()
		for i, value := range v {
			if _, err = stmt.ExecContext(ctx, a.ID, i, value); err != nil {
				return "", err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return a.ID, nil
}

// ListAttempts returns attempts matching cfg, oldest first.
func (s *Store) ListAttempts(ctx context.Context, cfg model.HistoryConfig) ([]model.Attempt, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if cfg.Identity != "" {
		clauses = append(clauses, "identity = ?")
		args = append(args, cfg.Identity)
	}
	if cfg.Since != nil {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, cfg.Since.UTC().Format(timeLayout))
	}
	query := fmt.Sprintf(`SELECT attempt_id, identity, intent, started_at, ended_at, feature_count, expected_count, outcome, decision, model_type, typing_speed, message
		FROM attempts
		WHERE %s
		ORDER BY ended_at ASC, id ASC`, strings.Join(clauses, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var attempts []model.Attempt
	for rows.Next() {
		var a model.Attempt
		var intent, outcome, decision, startedAt, endedAt string
		if err := rows.Scan(&a.ID, &a.Identity, &intent, &startedAt, &endedAt, &a.FeatureCount, &a.ExpectedCount, &outcome, &decision, &a.ModelType, &a.TypingSpeed, &a.Message); err != nil {
			return nil, err
		}
		a.Intent = model.Intent(intent)
		a.Outcome = model.Outcome(outcome)
		a.Decision = model.Decision(decision)
		if a.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, err
		}
		if a.EndedAt, err = time.Parse(timeLayout, endedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if cfg.Last > 0 && len(attempts) > cfg.Last {
		attempts = attempts[len(attempts)-cfg.Last:]
	}
	return attempts, nil
}

// FeatureVector returns the stored vector for an attempt, or nil when none was kept.
func (s *Store) FeatureVector(ctx context.Context, attemptID string) (model.FeatureVector, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM attempt_features WHERE attempt_id = ? ORDER BY position ASC`, attemptID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var v model.FeatureVector
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		v = append(v, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

// ListIdentities returns every identity with recorded attempts, sorted.
func (s *Store) ListIdentities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT identity FROM attempts WHERE identity != '' ORDER BY identity ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

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
