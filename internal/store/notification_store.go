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

const notificationColumns = `id, service_id, template_id, template_version, job_id, api_key_id,
	notification_type, "to", status, status_reason, feedback_type, feedback_subtype,
	provider_response, reference, sent_by, international, segments_count, cost_in_millicents,
	provider_metadata, sent_at, created_at, updated_at, provider_updated_at`

func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var channel, status string
	err := row.Scan(
		&n.ID, &n.ServiceID, &n.TemplateID, &n.TemplateVersion, &n.JobID, &n.APIKeyID,
		&channel, &n.To, &status, &n.StatusReason, &n.FeedbackType, &n.FeedbackSubtype,
		&n.ProviderResponse, &n.Reference, &n.SentBy, &n.International, &n.SegmentsCount, &n.CostInMillicents,
		&n.ProviderMetadata, &n.SentAt, &n.CreatedAt, &n.UpdatedAt, &n.ProviderUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Channel = domain.Channel(channel)
	n.Status = domain.Status(status)
	return &n, nil
}

// CreateNotification inserts a new notification row.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, service_id, template_id, template_version, job_id, api_key_id,
			notification_type, "to", status, sent_by, international, segments_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, n.ID, n.ServiceID, n.TemplateID, n.TemplateVersion, n.JobID, n.APIKeyID,
		string(n.Channel), n.To, string(n.Status), n.SentBy, n.International, n.SegmentsCount, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// SetNotificationReference stores the provider message id after a send.
func (s *PostgresStore) SetNotificationReference(ctx context.Context, id uuid.UUID, reference string, sentAt time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE notifications SET reference = $2, sent_at = $3 WHERE id = $1
	`, id, reference, sentAt)
	if err != nil {
		return fmt.Errorf("setting notification reference: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

// GetNotification returns nil, nil when the notification does not exist.
func (s *PostgresStore) GetNotification(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	n, err := scanNotification(s.pool.QueryRow(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying notification: %w", err)
	}
	return n, nil
}

// FindNotificationIDByReference resolves a provider message id.
func (s *PostgresStore) FindNotificationIDByReference(ctx context.Context, sentBy, reference string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM notifications WHERE reference = $1 AND sent_by = $2
		ORDER BY created_at DESC LIMIT 1
	`, reference, sentBy).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, domain.ErrNotificationNotFound
		}
		return uuid.Nil, fmt.Errorf("querying notification by reference: %w", err)
	}
	return id, nil
}

// UpdateNotificationLocked loads the row with SELECT ... FOR UPDATE, lets fn
// mutate it and writes it back when fn reports a change.
func (s *PostgresStore) UpdateNotificationLocked(ctx context.Context, id uuid.UUID, fn func(n *domain.Notification) (bool, error)) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		n, err := scanNotification(tx.QueryRow(ctx,
			`SELECT `+notificationColumns+` FROM notifications WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotificationNotFound
			}
			return fmt.Errorf("locking notification: %w", err)
		}

		changed, err := fn(n)
		if err != nil || !changed {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE notifications SET
				status = $2, status_reason = $3, feedback_type = $4, feedback_subtype = $5,
				provider_response = $6, segments_count = $7, cost_in_millicents = $8,
				provider_metadata = $9, updated_at = $10, provider_updated_at = $11
			WHERE id = $1
		`, n.ID, string(n.Status), n.StatusReason, n.FeedbackType, n.FeedbackSubtype,
			n.ProviderResponse, n.SegmentsCount, n.CostInMillicents,
			n.ProviderMetadata, n.UpdatedAt, n.ProviderUpdatedAt)
		if err != nil {
			return fmt.Errorf("updating notification: %w", err)
		}
		return nil
	})
}

// ListNotifications returns a service's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, serviceID uuid.UUID, status string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE service_id = $1`
	args := []interface{}{serviceID}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	notifications := []domain.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

// TimedOutNotification identifies a notification stuck in a pre-delivery state.
type TimedOutNotification struct {
	ID        uuid.UUID
	Status    domain.Status
	CreatedAt time.Time
}

// ListTimedOutNotifications returns notifications in one of statuses created
// before the cutoff.
func (s *PostgresStore) ListTimedOutNotifications(ctx context.Context, statuses []domain.Status, before time.Time, limit int) ([]TimedOutNotification, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, status, created_at FROM notifications
		WHERE status = ANY($1) AND created_at < $2
		ORDER BY created_at
		LIMIT $3
	`, raw, before, limit)
	if err != nil {
		return nil, fmt.Errorf("querying timed out notifications: %w", err)
	}
	defer rows.Close()

	var out []TimedOutNotification
	for rows.Next() {
		var t TimedOutNotification
		var status string
		if err := rows.Scan(&t.ID, &status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning timed out notification: %w", err)
		}
		t.Status = domain.Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}
