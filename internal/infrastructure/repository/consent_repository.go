package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/compliance-engine/internal/domain/consent"
)

// ConsentRepository persists consent records in Postgres.
type ConsentRepository struct {
	db *pgxpool.Pool
}

func NewConsentRepository(db *pgxpool.Pool) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Insert writes one consent record.
func (r *ConsentRepository) Insert(ctx context.Context, record *consent.Record) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO consent_records (
			id, subject_id, consent_type, status, timestamp,
			expires_at, scope, legal_basis, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		record.ID,
		record.SubjectID,
		string(record.Type),
		string(record.Status),
		record.Timestamp,
		record.ExpiresAt,
		record.Scope,
		string(record.LegalBasis),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting consent record: %w", err)
	}
	return nil
}

// ListBySubject returns a subject's consent records newest first, optionally
// restricted to one consent type.
func (r *ConsentRepository) ListBySubject(ctx context.Context, subjectID string, consentType *consent.Type) ([]*consent.Record, error) {
	query := `
		SELECT id, subject_id, consent_type, status, timestamp,
			expires_at, scope, legal_basis, metadata
		FROM consent_records
		WHERE subject_id = $1`
	args := []interface{}{subjectID}

	if consentType != nil {
		query += " AND consent_type = $2"
		args = append(args, string(*consentType))
	}
	query += " ORDER BY timestamp DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying consent records: %w", err)
	}
	defer rows.Close()

	var records []*consent.Record
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Latest returns the most recent record for a (subject, type) pair, or
// ErrNotFound when none exists.
func (r *ConsentRepository) Latest(ctx context.Context, subjectID string, consentType consent.Type) (*consent.Record, error) {
	query := `
		SELECT id, subject_id, consent_type, status, timestamp,
			expires_at, scope, legal_basis, metadata
		FROM consent_records
		WHERE subject_id = $1 AND consent_type = $2
		ORDER BY timestamp DESC
		LIMIT 1`

	rows, err := r.db.Query(ctx, query, subjectID, string(consentType))
	if err != nil {
		return nil, fmt.Errorf("querying latest consent: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanConsent(rows)
}

func scanConsent(rows pgx.Rows) (*consent.Record, error) {
	var (
		rec         consent.Record
		consentType string
		status      string
		legalBasis  string
		metadata    []byte
	)
	err := rows.Scan(
		&rec.ID, &rec.SubjectID, &consentType, &status, &rec.Timestamp,
		&rec.ExpiresAt, &rec.Scope, &legalBasis, &metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning consent record: %w", err)
	}
	rec.Type = consent.Type(consentType)
	rec.Status = consent.Status(status)
	rec.LegalBasis = consent.LegalBasis(legalBasis)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &rec, nil
}
