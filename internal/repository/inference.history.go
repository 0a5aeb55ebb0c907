package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joshuarp/inference-api/internal/domain"
)

// InferenceHistoryRepository persists one row per orchestrated request so
// operators can audit cache effectiveness and per-subject load. It is an
// optional collaborator: the orchestrator treats insert failures as
// best-effort and the API runs without a database at all.
type InferenceHistoryRepository struct {
	db *sqlx.DB
}

type requestRow struct {
	Subject     string    `db:"subject"`
	Kind        string    `db:"kind"`
	Fingerprint string    `db:"fingerprint"`
	CacheHit    bool      `db:"cache_hit"`
	Source      string    `db:"source"`
	Failure     string    `db:"failure"`
	DurationMS  int64     `db:"duration_ms"`
	CreatedAt   time.Time `db:"created_at"`
}

func NewInferenceHistoryRepository(db *sqlx.DB) *InferenceHistoryRepository {
	return &InferenceHistoryRepository{db: db}
}

// RecordRequest inserts one history row.
func (r *InferenceHistoryRepository) RecordRequest(ctx context.Context, record domain.RequestRecord) error {
	if strings.TrimSpace(record.Subject) == "" {
		return fmt.Errorf("repository: subject is required")
	}

	const query = `
		INSERT INTO inference_requests (subject, kind, fingerprint, cache_hit, source, failure, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, query,
		record.Subject,
		string(record.Kind),
		record.Fingerprint,
		record.CacheHit,
		record.Source,
		record.Failure,
		record.DurationMS,
		createdAt,
	); err != nil {
		return fmt.Errorf("repository: insert inference request failed: %w", err)
	}

	return nil
}

// ListRecentBySubject returns the subject's latest requests, newest first.
func (r *InferenceHistoryRepository) ListRecentBySubject(ctx context.Context, subject string, limit int) ([]domain.RequestRecord, error) {
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedSubject == "" {
		return nil, fmt.Errorf("repository: subject is required")
	}

	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT subject, kind, fingerprint, cache_hit, source, failure, duration_ms, created_at
		FROM inference_requests
		WHERE subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var rows []requestRow
	if err := r.db.SelectContext(ctx, &rows, query, normalizedSubject, limit); err != nil {
		return nil, fmt.Errorf("repository: list inference requests failed: %w", err)
	}

	records := make([]domain.RequestRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.RequestRecord{
			Subject:     row.Subject,
			Kind:        domain.Kind(row.Kind),
			Fingerprint: row.Fingerprint,
			CacheHit:    row.CacheHit,
			Source:      row.Source,
			Failure:     row.Failure,
			DurationMS:  row.DurationMS,
			CreatedAt:   row.CreatedAt,
		})
	}

	return records, nil
}
