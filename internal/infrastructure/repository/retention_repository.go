package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/domain/retention"
)

// RetentionRepository persists the tracked-records collection and the
// retention-actions log.
type RetentionRepository struct {
	db *pgxpool.Pool
}

func NewRetentionRepository(db *pgxpool.Pool) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// Track registers a record in the tracking collection.
func (r *RetentionRepository) Track(ctx context.Context, record *retention.TrackedRecord) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}

	query := `
		INSERT INTO data_retention_tracking (
			id, data_type, reference, created_at, tags, status, fields
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		string(record.DataType),
		record.Reference,
		record.CreatedAt,
		record.Tags,
		string(record.Status),
		fields,
	)
	if err != nil {
		return fmt.Errorf("inserting tracked record: %w", err)
	}
	return nil
}

// ListExpired returns active tracked records of a data type created before
// the cutoff. Anonymized and pseudonymized records are excluded so repeated
// sweeps stay idempotent.
func (r *RetentionRepository) ListExpired(ctx context.Context, dataType compliance.Classification, cutoff time.Time, limit int) ([]*retention.TrackedRecord, error) {
	query := `
		SELECT id, data_type, reference, created_at, tags, status, fields
		FROM data_retention_tracking
		WHERE data_type = $1 AND created_at < $2 AND status = $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.Query(ctx, query,
		string(dataType), cutoff, string(retention.RecordActive), limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired records: %w", err)
	}
	defer rows.Close()

	var records []*retention.TrackedRecord
	for rows.Next() {
		var (
			rec      retention.TrackedRecord
			dataType string
			status   string
			fields   []byte
		)
		err := rows.Scan(&rec.ID, &dataType, &rec.Reference, &rec.CreatedAt,
			&rec.Tags, &status, &fields)
		if err != nil {
			return nil, fmt.Errorf("scanning tracked record: %w", err)
		}
		rec.DataType = compliance.Classification(dataType)
		rec.Status = retention.RecordStatus(status)
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &rec.Fields); err != nil {
				return nil, fmt.Errorf("unmarshaling fields: %w", err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Delete permanently removes a tracked record (secure delete).
func (r *RetentionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM data_retention_tracking WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("deleting tracked record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateFields replaces a record's identifying fields and marks its new
// lifecycle status (anonymized or pseudonymized).
func (r *RetentionRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]string, status retention.RecordStatus) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling fields: %w", err)
	}

	query := `
		UPDATE data_retention_tracking
		SET fields = $2, status = $3
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, data, string(status))
	if err != nil {
		return fmt.Errorf("updating tracked record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAction appends one entry to the retention-actions log.
func (r *RetentionRepository) RecordAction(ctx context.Context, action *retention.ActionRecord) error {
	metadata, err := json.Marshal(action.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO retention_actions (record_id, policy_id, action, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.Exec(ctx, query,
		action.RecordID,
		action.PolicyID,
		string(action.Action),
		action.Timestamp,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting retention action: %w", err)
	}
	return nil
}
