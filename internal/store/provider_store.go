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

const providerColumns = `id, identifier, display_name, notification_type, priority, load_balancing_weight,
	active, supports_international, version, created_by, updated_at`

func scanProvider(row pgx.Row) (*domain.ProviderDetails, error) {
	var p domain.ProviderDetails
	var channel string
	err := row.Scan(&p.ID, &p.Identifier, &p.DisplayName, &channel, &p.Priority, &p.LoadBalancingWeight,
		&p.Active, &p.SupportsInternational, &p.Version, &p.CreatedBy, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Channel = domain.Channel(channel)
	return &p, nil
}

// ListProviders returns every provider row, active or not.
func (s *PostgresStore) ListProviders(ctx context.Context) ([]domain.ProviderDetails, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+providerColumns+` FROM provider_details ORDER BY notification_type, priority, identifier`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	providers := []domain.ProviderDetails{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// GetProvider returns nil, nil when the provider does not exist.
func (s *PostgresStore) GetProvider(ctx context.Context, id uuid.UUID) (*domain.ProviderDetails, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx,
		`SELECT `+providerColumns+` FROM provider_details WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying provider: %w", err)
	}
	return p, nil
}

// UpdateProvider applies upd under a row lock. A change bumps the version and
// appends the new version to provider_details_history; a no-op update returns
// the row untouched.
func (s *PostgresStore) UpdateProvider(ctx context.Context, id uuid.UUID, upd domain.ProviderUpdate) (*domain.ProviderDetails, error) {
	var result *domain.ProviderDetails

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		p, err := scanProvider(tx.QueryRow(ctx,
			`SELECT `+providerColumns+` FROM provider_details WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrProviderNotFound
			}
			return fmt.Errorf("locking provider: %w", err)
		}

		// Seeded rows may predate history; keep their original version.
		if err := insertProviderHistory(ctx, tx, p); err != nil {
			return err
		}

		if !upd.Apply(p) {
			result = p
			return nil
		}

		now := time.Now().UTC()
		p.Version++
		p.UpdatedAt = &now

		_, err = tx.Exec(ctx, `
			UPDATE provider_details SET
				priority = $2, load_balancing_weight = $3, active = $4,
				supports_international = $5, version = $6, created_by = $7, updated_at = $8
			WHERE id = $1
		`, p.ID, p.Priority, p.LoadBalancingWeight, p.Active,
			p.SupportsInternational, p.Version, p.CreatedBy, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("updating provider: %w", err)
		}

		if err := insertProviderHistory(ctx, tx, p); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func insertProviderHistory(ctx context.Context, tx pgx.Tx, p *domain.ProviderDetails) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_details_history (id, version, identifier, display_name, notification_type,
			priority, load_balancing_weight, active, supports_international, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id, version) DO NOTHING
	`, p.ID, p.Version, p.Identifier, p.DisplayName, string(p.Channel),
		p.Priority, p.LoadBalancingWeight, p.Active, p.SupportsInternational, p.CreatedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recording provider history: %w", err)
	}
	return nil
}

// ListProviderHistory returns every recorded version of a provider, newest first.
func (s *PostgresStore) ListProviderHistory(ctx context.Context, id uuid.UUID) ([]domain.ProviderDetailsHistory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+`, recorded_at
		FROM provider_details_history
		WHERE id = $1
		ORDER BY version DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying provider history: %w", err)
	}
	defer rows.Close()

	history := []domain.ProviderDetailsHistory{}
	for rows.Next() {
		var h domain.ProviderDetailsHistory
		var channel string
		err := rows.Scan(&h.ID, &h.Identifier, &h.DisplayName, &channel, &h.Priority, &h.LoadBalancingWeight,
			&h.Active, &h.SupportsInternational, &h.Version, &h.CreatedBy, &h.UpdatedAt, &h.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning provider history: %w", err)
		}
		h.Channel = domain.Channel(channel)
		history = append(history, h)
	}
	return history, rows.Err()
}

// ProviderStats counts notifications sent through each provider since the cutoff.
func (s *PostgresStore) ProviderStats(ctx context.Context, since time.Time) ([]domain.ProviderStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.identifier, p.display_name, p.notification_type, p.priority, p.load_balancing_weight,
			p.active, p.supports_international, p.version, p.created_by, p.updated_at,
			COUNT(n.id) AS sent
		FROM provider_details p
		LEFT JOIN notifications n ON n.sent_by = p.identifier AND n.created_at >= $1
		GROUP BY p.id
		ORDER BY p.notification_type, p.priority, p.identifier
	`, since)
	if err != nil {
		return nil, fmt.Errorf("querying provider stats: %w", err)
	}
	defer rows.Close()

	stats := []domain.ProviderStats{}
	for rows.Next() {
		var st domain.ProviderStats
		var channel string
		err := rows.Scan(&st.ID, &st.Identifier, &st.DisplayName, &channel, &st.Priority, &st.LoadBalancingWeight,
			&st.Active, &st.SupportsInternational, &st.Version, &st.CreatedBy, &st.UpdatedAt, &st.SentLastWindow)
		if err != nil {
			return nil, fmt.Errorf("scanning provider stats: %w", err)
		}
		st.Channel = domain.Channel(channel)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
