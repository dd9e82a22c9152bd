package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeadLetterRecord holds data for inserting a dead letter entry.
type DeadLetterRecord struct {
	Provider  string
	Reference string
	Payload   json.RawMessage
	LastError string
}

// InsertDeadLetter parks a callback that could not be applied.
func (s *PostgresStore) InsertDeadLetter(ctx context.Context, rec DeadLetterRecord) (uuid.UUID, error) {
	var reference *string
	if rec.Reference != "" {
		reference = &rec.Reference
	}

	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO callback_dead_letters (id, provider, reference, payload, last_error)
		VALUES ($1, $2, $3, $4, $5)
	`, id, rec.Provider, reference, []byte(rec.Payload), rec.LastError)
	if err != nil {
		return uuid.Nil, fmt.Errorf("inserting dead letter: %w", err)
	}
	return id, nil
}

// ListDeadLetters returns dead letter entries with optional filtering.
func (s *PostgresStore) ListDeadLetters(ctx context.Context, provider string, resolved bool, limit int) ([]domain.DeadLetter, error) {
	query := `SELECT id, provider, reference, payload, last_error, created_at, resolved_at, resolved_by FROM callback_dead_letters`
	args := []interface{}{}
	argIdx := 1
	conditions := []string{}

	if provider != "" {
		conditions = append(conditions, fmt.Sprintf("provider = $%d", argIdx))
		args = append(args, provider)
		argIdx++
	}

	if resolved {
		conditions = append(conditions, "resolved_at IS NOT NULL")
	} else {
		conditions = append(conditions, "resolved_at IS NULL")
	}

	query += " WHERE " + strings.Join(conditions, " AND ")
	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	letters := []domain.DeadLetter{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		letters = append(letters, *dl)
	}
	return letters, rows.Err()
}

// GetDeadLetter returns a single dead letter by ID, or nil when absent.
func (s *PostgresStore) GetDeadLetter(ctx context.Context, id uuid.UUID) (*domain.DeadLetter, error) {
	dl, err := scanDeadLetter(s.pool.QueryRow(ctx, `
		SELECT id, provider, reference, payload, last_error, created_at, resolved_at, resolved_by
		FROM callback_dead_letters WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying dead letter: %w", err)
	}
	return dl, nil
}

// ResolveDeadLetter marks a dead letter as resolved.
func (s *PostgresStore) ResolveDeadLetter(ctx context.Context, id uuid.UUID, resolvedBy string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE callback_dead_letters SET resolved_at = NOW(), resolved_by = $2
		WHERE id = $1 AND resolved_at IS NULL
	`, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolving dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDeadLetterNotFound
	}
	return nil
}

func scanDeadLetter(row pgx.Row) (*domain.DeadLetter, error) {
	var dl domain.DeadLetter
	var payload []byte
	err := row.Scan(&dl.ID, &dl.Provider, &dl.Reference, &payload, &dl.LastError,
		&dl.CreatedAt, &dl.ResolvedAt, &dl.ResolvedBy)
	if err != nil {
		return nil, err
	}
	dl.Payload = payload
	return &dl, nil
}
