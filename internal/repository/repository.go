// Package repository persists alerts and orchestration run audit records.
package repository

import (
	"context"
	"errors"

	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/response"
)

var (
	ErrAlertNotFound = errors.New("alert not found")
	ErrRunNotFound   = errors.New("orchestration run not found")
)

// Repository defines the interface for alert and run persistence.
type Repository interface {
	// Alert operations
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlertByID(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, limit, offset int) ([]*models.Alert, int, error)

	// Orchestration run audit
	SaveRun(ctx context.Context, run *response.Run) error
	GetRunByID(ctx context.Context, id string) (*response.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*response.Run, int, error)

	// Utility
	Ping(ctx context.Context) error
	Close() error
}
