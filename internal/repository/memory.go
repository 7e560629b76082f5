package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/shortify-systems/sentinel/internal/models"
	"github.com/shortify-systems/sentinel/internal/response"
)

// MemoryRepository is an in-memory Repository for tests and local
// development.
type MemoryRepository struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
	runs   map[string]*response.Run
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		alerts: make(map[string]*models.Alert),
		runs:   make(map[string]*response.Run),
	}
}

func (r *MemoryRepository) CreateAlert(_ context.Context, alert *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *alert
	r.alerts[alert.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetAlertByID(_ context.Context, id string) (*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	copied := *alert
	return &copied, nil
}

func (r *MemoryRepository) ListAlerts(_ context.Context, limit, offset int) ([]*models.Alert, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*models.Alert, 0, len(r.alerts))
	for _, alert := range r.alerts {
		copied := *alert
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	return paginate(all, limit, offset), len(r.alerts), nil
}

func (r *MemoryRepository) SaveRun(_ context.Context, run *response.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *run
	r.runs[run.ID] = &stored
	return nil
}

func (r *MemoryRepository) GetRunByID(_ context.Context, id string) (*response.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (r *MemoryRepository) ListRuns(_ context.Context, limit, offset int) ([]*response.Run, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*response.Run, 0, len(r.runs))
	for _, run := range r.runs {
		copied := *run
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	return paginate(all, limit, offset), len(r.runs), nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
