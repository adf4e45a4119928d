package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
)

// AuditRepository persists audit events in Postgres. The store is
// append-only: no update or delete statements exist here by design.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert writes one audit event.
func (r *AuditRepository) Insert(ctx context.Context, event *audit.Event) error {
	changes, err := json.Marshal(event.Changes)
	if err != nil {
		return fmt.Errorf("marshaling changes: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, actor_id, actor_role, operation, resource, outcome, timestamp,
			client_ip, user_agent, data_accessed, changes,
			flag_hipaa, flag_gdpr, flag_fda, flag_dicom, flag_hl7_fhir,
			flag_iso_13485, flag_iec_62304, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = r.db.Exec(ctx, query,
		event.ID,
		event.ActorID,
		event.ActorRole,
		event.Operation,
		event.Resource,
		string(event.Outcome),
		event.Timestamp,
		event.ClientIP,
		event.UserAgent,
		event.DataAccessed,
		changes,
		event.Flags.HIPAA,
		event.Flags.GDPR,
		event.Flags.FDA,
		event.Flags.DICOM,
		event.Flags.HL7FHIR,
		event.Flags.ISO13485,
		event.Flags.IEC62304,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first. All filter fields
// combine with AND; the timestamp range is inclusive.
func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Event, error) {
	query := `
		SELECT id, actor_id, actor_role, operation, resource, outcome, timestamp,
			client_ip, user_agent, data_accessed, changes,
			flag_hipaa, flag_gdpr, flag_fda, flag_dicom, flag_hl7_fhir,
			flag_iso_13485, flag_iec_62304, metadata
		FROM audit_events
		WHERE 1=1`

	args := []interface{}{}
	idx := 1

	if filter.ActorID != "" {
		query += fmt.Sprintf(" AND actor_id = $%d", idx)
		args = append(args, filter.ActorID)
		idx++
	}
	if filter.Operation != "" {
		query += fmt.Sprintf(" AND operation = $%d", idx)
		args = append(args, filter.Operation)
		idx++
	}
	if filter.Resource != "" {
		query += fmt.Sprintf(" AND resource = $%d", idx)
		args = append(args, filter.Resource)
		idx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", idx)
		args = append(args, string(filter.Outcome))
		idx++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", idx)
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", idx)
		args = append(args, *filter.To)
		idx++
	}

	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			outcome  string
			changes  []byte
			metadata []byte
		)
		err := rows.Scan(
			&e.ID, &e.ActorID, &e.ActorRole, &e.Operation, &e.Resource,
			&outcome, &e.Timestamp, &e.ClientIP, &e.UserAgent,
			&e.DataAccessed, &changes,
			&e.Flags.HIPAA, &e.Flags.GDPR, &e.Flags.FDA, &e.Flags.DICOM,
			&e.Flags.HL7FHIR, &e.Flags.ISO13485, &e.Flags.IEC62304,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Outcome = audit.Outcome(outcome)
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, fmt.Errorf("unmarshaling changes: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
