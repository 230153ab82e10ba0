package events

import "time"

// Outbox event types.
const (
	TypeAppointmentCommitted = "appointment.committed.v1"
	TypePrescriptionIssued   = "prescription.issued.v1"
)

// Bus subjects.
const (
	SubjectHandoffPublished     = "handoff.published"
	SubjectHandoffRetired       = "handoff.retired"
	SubjectAppointmentCommitted = "appointment.committed"
	SubjectPrescriptionIssued   = "prescription.issued"
	subjectSessionResolved      = "session.resolved"
)

// SessionResolvedSubject is the per-device subject resolved snapshots are
// pushed on.
func SessionResolvedSubject(deviceID string) string {
	return subjectSessionResolved + "." + deviceID
}

type AppointmentCommittedV1 struct {
	EventID        string    `json:"event_id"`
	RequesterID    string    `json:"requester_id"`
	RequesterName  string    `json:"requester_name"`
	RequesterEmail string    `json:"requester_email,omitempty"`
	ProviderID     string    `json:"provider_id"`
	ProviderName   string    `json:"provider_name"`
	ProviderEmail  string    `json:"provider_email,omitempty"`
	Specialty      string    `json:"specialty"`
	Date           string    `json:"date"`
	Slot           string    `json:"slot"`
	CommittedAt    time.Time `json:"committed_at"`
}

type PrescriptionIssuedV1 struct {
	EventID        string    `json:"event_id"`
	PrescriptionID string    `json:"prescription_id"`
	RequesterID    string    `json:"requester_id"`
	RequesterName  string    `json:"requester_name"`
	RequesterEmail string    `json:"requester_email,omitempty"`
	ProviderID     string    `json:"provider_id"`
	ProviderName   string    `json:"provider_name"`
	Date           string    `json:"date,omitempty"`
	Slot           string    `json:"slot,omitempty"`
	IssuedAt       time.Time `json:"issued_at"`
}

type HandoffPublishedV1 struct {
	ChannelID     string    `json:"channel_id"`
	RecordID      string    `json:"record_id"`
	ProviderID    string    `json:"provider_id"`
	Date          string    `json:"date"`
	Slot          string    `json:"slot"`
	RequesterName string    `json:"requester_name"`
	PublishedAt   time.Time `json:"published_at"`
}

type HandoffRetiredV1 struct {
	ChannelID string    `json:"channel_id"`
	Records   int       `json:"records"`
	RetiredAt time.Time `json:"retired_at"`
}

// SessionResolvedV1 is a resolved session snapshot pushed to one device.
type SessionResolvedV1 struct {
	DeviceID     string    `json:"device_id"`
	SubjectID    string    `json:"subject_id,omitempty"`
	Role         string    `json:"role"`
	Registration string    `json:"registration"`
	Resolving    bool      `json:"resolving"`
	DisplayName  string    `json:"display_name,omitempty"`
	Specialty    string    `json:"specialty,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	Generation   uint64    `json:"generation"`
	ResolvedAt   time.Time `json:"resolved_at"`
}
