// Package compliance keeps the immutable audit trail required for
// telehealth records: bookings, prescriptions, intake changes, and
// consistency failures that need manual reconciliation.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of compliance event.
type AuditEventType string

const (
	// EventRequesterRegistered is logged when a requester profile is created.
	EventRequesterRegistered AuditEventType = "clinical.requester_registered"
	// EventIntakeSubmitted is logged when medical intake data is stored.
	EventIntakeSubmitted AuditEventType = "clinical.intake_submitted"
	// EventAppointmentCommitted is logged when both sides of a booking are written.
	EventAppointmentCommitted AuditEventType = "scheduling.appointment_committed"
	// EventCommitmentOrphaned is logged when a requester-side commitment could
	// not be rolled back after the provider-side write failed. These rows are
	// the reconciliation work queue.
	EventCommitmentOrphaned AuditEventType = "scheduling.commitment_orphaned"
	// EventPrescriptionIssued is logged when a provider issues a prescription.
	EventPrescriptionIssued AuditEventType = "clinical.prescription_issued"
)

// AuditEvent represents an immutable compliance audit record.
type AuditEvent struct {
	ID         string          `json:"id"`
	EventType  AuditEventType  `json:"event_type"`
	SubjectID  string          `json:"subject_id"`
	ActorID    string          `json:"actor_id,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditService handles compliance audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records a compliance audit event. A service without a database
// discards events.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO telehealth_audit_events (
			id, event_type, subject_id, actor_id, resource_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.SubjectID,
		nullString(event.ActorID),
		nullString(event.ResourceID),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// Log is LogEvent with details marshalled from any value.
func (s *AuditService) Log(ctx context.Context, eventType AuditEventType, subjectID, actorID, resourceID string, details any) error {
	var raw json.RawMessage
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("compliance: failed to encode audit details: %w", err)
		}
		raw = encoded
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType:  eventType,
		SubjectID:  subjectID,
		ActorID:    actorID,
		ResourceID: resourceID,
		Details:    raw,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `
		SELECT id, event_type, subject_id, actor_id, resource_id, details, created_at
		FROM telehealth_audit_events
		WHERE 1 = 1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.SubjectID != "" {
		query += fmt.Sprintf(" AND subject_id = $%d", argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var actorID, resourceID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.SubjectID, &actorID, &resourceID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.ActorID = actorID.String
		e.ResourceID = resourceID.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: failed to iterate audit events: %w", err)
	}
	return events, nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	SubjectID string
	EventType AuditEventType
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
