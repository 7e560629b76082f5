package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/response"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// CreateAlert inserts a new alert record.
func (r *PostgresRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (id, identity, abuse_score, reason, status, method, resource, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		alert.ID, alert.Identity, alert.AbuseScore, alert.Reason,
		alert.Status, alert.Method, alert.Resource, alert.UserAgent, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// GetAlertByID retrieves one alert.
func (r *PostgresRepository) GetAlertByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `
		SELECT id, identity, abuse_score, reason, status, method, resource, user_agent, created_at
		FROM alerts
		WHERE id = $1
	`

	alert := &models.Alert{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&alert.ID, &alert.Identity, &alert.AbuseScore, &alert.Reason,
		&alert.Status, &alert.Method, &alert.Resource, &alert.UserAgent, &alert.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns a page of alerts, newest first, plus the total count.
func (r *PostgresRepository) ListAlerts(ctx context.Context, limit, offset int) ([]*models.Alert, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := `
		SELECT id, identity, abuse_score, reason, status, method, resource, user_agent, created_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.Alert, 0, limit)
	for rows.Next() {
		alert := &models.Alert{}
		if err := rows.Scan(
			&alert.ID, &alert.Identity, &alert.AbuseScore, &alert.Reason,
			&alert.Status, &alert.Method, &alert.Resource, &alert.UserAgent, &alert.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

// SaveRun persists a completed orchestration run. The action outcome
// lists and identify results are stored as JSONB.
func (r *PostgresRepository) SaveRun(ctx context.Context, run *response.Run) error {
	identified, err := json.Marshal(run.Identified)
	if err != nil {
		return fmt.Errorf("failed to encode identified results: %w", err)
	}

	query := `
		INSERT INTO orchestration_runs
			(id, alarm_name, category, state, successful_actions, failed_actions,
			 skipped_actions, ips_blocked, reputation_flagged, identified, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		run.ID, run.AlarmName, string(run.Category), run.State,
		run.Successful, run.Failed, run.Skipped, run.IPsBlocked, run.Flagged,
		identified, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save orchestration run: %w", err)
	}
	return nil
}

// GetRunByID retrieves one orchestration run.
func (r *PostgresRepository) GetRunByID(ctx context.Context, id string) (*response.Run, error) {
	query := `
		SELECT id, alarm_name, category, state, successful_actions, failed_actions,
		       skipped_actions, ips_blocked, reputation_flagged, identified, started_at, completed_at
		FROM orchestration_runs
		WHERE id = $1
	`

	run := &response.Run{}
	var category string
	var identified []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.AlarmName, &category, &run.State,
		&run.Successful, &run.Failed, &run.Skipped, &run.IPsBlocked, &run.Flagged,
		&identified, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get orchestration run: %w", err)
	}

	run.Category = response.Category(category)
	if err := json.Unmarshal(identified, &run.Identified); err != nil {
		return nil, fmt.Errorf("malformed identified results: %w", err)
	}
	return run, nil
}

// ListRuns returns a page of runs, newest first, plus the total count.
func (r *PostgresRepository) ListRuns(ctx context.Context, limit, offset int) ([]*response.Run, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orchestration_runs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := `
		SELECT id, alarm_name, category, state, successful_actions, failed_actions,
		       skipped_actions, ips_blocked, reputation_flagged, identified, started_at, completed_at
		FROM orchestration_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*response.Run, 0, limit)
	for rows.Next() {
		run := &response.Run{}
		var category string
		var identified []byte
		if err := rows.Scan(
			&run.ID, &run.AlarmName, &category, &run.State,
			&run.Successful, &run.Failed, &run.Skipped, &run.IPsBlocked, &run.Flagged,
			&identified, &run.StartedAt, &run.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Category = response.Category(category)
		if err := json.Unmarshal(identified, &run.Identified); err != nil {
			return nil, 0, fmt.Errorf("malformed identified results: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
