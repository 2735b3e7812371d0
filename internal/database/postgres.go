package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rightsgate/internal/config"

	_ "github.com/lib/pq"
)

type DB struct {
	conn *sql.DB
	cfg  *config.Config
}

func NewDB(cfg *config.Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pow_challenges (
			id VARCHAR(64) PRIMARY KEY,
			resource VARCHAR(32) NOT NULL,
			difficulty INTEGER NOT NULL,
			nonce VARCHAR(128) NOT NULL,
			owner_user_id VARCHAR(64),
			owner_session_id VARCHAR(64),
			is_used BOOLEAN NOT NULL DEFAULT FALSE,
			used_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pow_solution_attempts (
			id VARCHAR(64) PRIMARY KEY,
			challenge_id VARCHAR(64) NOT NULL REFERENCES pow_challenges(id) ON DELETE CASCADE,
			solution_hash VARCHAR(64) NOT NULL,
			solution_nonce BIGINT NOT NULL,
			client_ip VARCHAR(45) NOT NULL,
			user_agent TEXT NOT NULL,
			valid BOOLEAN NOT NULL DEFAULT FALSE,
			reason VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pow_challenges_expires_at ON pow_challenges(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pow_challenges_is_used ON pow_challenges(is_used)`,
		`CREATE INDEX IF NOT EXISTS idx_pow_solution_attempts_challenge_id ON pow_solution_attempts(challenge_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pow_solution_attempts_created_at ON pow_solution_attempts(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

func (db *DB) CreateChallenge(ctx context.Context, challenge *Challenge) error {
	query := `INSERT INTO pow_challenges (id, resource, difficulty, nonce, owner_user_id, owner_session_id, created_at, expires_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := db.conn.ExecContext(ctx, query, challenge.ID, challenge.Resource, challenge.Difficulty,
		challenge.Nonce, challenge.OwnerUserID, challenge.OwnerSessionID,
		challenge.CreatedAt, challenge.ExpiresAt)

	return err
}

func (db *DB) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	query := `SELECT id, resource, difficulty, nonce, owner_user_id, owner_session_id, is_used, used_at, created_at, expires_at
			  FROM pow_challenges WHERE id = $1`

	challenge := &Challenge{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&challenge.ID, &challenge.Resource, &challenge.Difficulty, &challenge.Nonce,
		&challenge.OwnerUserID, &challenge.OwnerSessionID, &challenge.IsUsed,
		&challenge.UsedAt, &challenge.CreatedAt, &challenge.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return challenge, err
}

// ConsumeChallenge flips is_used in a single conditional update. It reports
// false when the challenge was already consumed by a concurrent caller.
func (db *DB) ConsumeChallenge(ctx context.Context, id string) (bool, error) {
	query := `UPDATE pow_challenges SET is_used = TRUE, used_at = NOW() WHERE id = $1 AND is_used = FALSE`

	res, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

func (db *DB) CreateSolutionAttempt(ctx context.Context, attempt *SolutionAttempt) error {
	query := `INSERT INTO pow_solution_attempts (id, challenge_id, solution_hash, solution_nonce, client_ip, user_agent, valid, reason, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := db.conn.ExecContext(ctx, query, attempt.ID, attempt.ChallengeID, attempt.SolutionHash,
		attempt.SolutionNonce, attempt.ClientIP, attempt.UserAgent,
		attempt.Valid, attempt.Reason, attempt.CreatedAt)

	return err
}

func (db *DB) CleanupExpiredChallenges(ctx context.Context) error {
	query := `DELETE FROM pow_challenges WHERE expires_at < NOW() AND is_used = FALSE`
	_, err := db.conn.ExecContext(ctx, query)
	return err
}

func (db *DB) CleanupOldAttempts(ctx context.Context, olderThan time.Duration) error {
	query := `DELETE FROM pow_solution_attempts WHERE created_at < $1`
	cutoff := time.Now().Add(-olderThan)
	_, err := db.conn.ExecContext(ctx, query, cutoff)
	return err
}
