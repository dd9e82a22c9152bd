package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetService returns domain.ErrServiceNotFound when no row matches.
func (s *PostgresStore) GetService(ctx context.Context, id uuid.UUID) (*domain.Service, error) {
	var svc domain.Service
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, active, research_mode, api_secret, suspended_at, created_at
		FROM services WHERE id = $1
	`, id).Scan(&svc.ID, &svc.Name, &svc.Active, &svc.ResearchMode, &svc.APISecret, &svc.SuspendedAt, &svc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrServiceNotFound
		}
		return nil, fmt.Errorf("querying service: %w", err)
	}
	return &svc, nil
}

// SuspendService deactivates the service and stamps the suspension time.
func (s *PostgresStore) SuspendService(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE services SET active = FALSE, suspended_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("suspending service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrServiceNotFound
	}
	return nil
}

func (s *PostgresStore) ResumeService(ctx context.Context, id uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE services SET active = TRUE, suspended_at = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("resuming service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrServiceNotFound
	}
	return nil
}
