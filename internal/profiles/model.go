// Package profiles reads and writes provider and requester profile documents.
package profiles

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/pkg/logging"
)

const (
	// ProvidersCollection holds provider profiles keyed by subject id.
	ProvidersCollection = "providers"
	// RequestersCollection holds requester profiles keyed by subject id.
	RequestersCollection = "requesters"
	// CommitmentsField is the embedded commitments list on both profiles.
	CommitmentsField = "commitments"
)

// Provider is a provider profile. Profiles are provisioned out-of-band; this
// service only appends commitments.
type Provider struct {
	ID           string `dynamodbav:"id" json:"id"`
	Name         string `dynamodbav:"name" json:"name"`
	Email        string `dynamodbav:"email" json:"email"`
	Specialty    string `dynamodbav:"specialty" json:"specialty"`
	Contact      string `dynamodbav:"contact,omitempty" json:"contact,omitempty"`
	CredentialID string `dynamodbav:"credentialId,omitempty" json:"credentialId,omitempty"`
	Commitments  []any  `dynamodbav:"commitments,omitempty" json:"-"`
}

// Requester is a requester profile plus its intake fields. Age is a pointer
// because its presence is what marks registration complete.
type Requester struct {
	ID              string     `dynamodbav:"id" json:"id"`
	Email           string     `dynamodbav:"email" json:"email"`
	Name            string     `dynamodbav:"name" json:"name"`
	CreatedAt       time.Time  `dynamodbav:"createdAt" json:"createdAt"`
	Age             *int       `dynamodbav:"age,omitempty" json:"age,omitempty"`
	Gender          string     `dynamodbav:"gender,omitempty" json:"gender,omitempty"`
	Weight          float64    `dynamodbav:"weight,omitempty" json:"weight,omitempty"`
	Height          float64    `dynamodbav:"height,omitempty" json:"height,omitempty"`
	BloodType       string     `dynamodbav:"bloodType,omitempty" json:"bloodType,omitempty"`
	Diet            string     `dynamodbav:"diet,omitempty" json:"diet,omitempty"`
	Exercise        string     `dynamodbav:"exercise,omitempty" json:"exercise,omitempty"`
	Allergies       string     `dynamodbav:"allergies,omitempty" json:"allergies,omitempty"`
	IntakeUpdatedAt *time.Time `dynamodbav:"intakeUpdatedAt,omitempty" json:"intakeUpdatedAt,omitempty"`
	Commitments     []any      `dynamodbav:"commitments,omitempty" json:"-"`
}

// IntakeComplete reports whether the mandatory intake data is present.
func (r *Requester) IntakeComplete() bool {
	return r != nil && r.Age != nil
}

// RequesterCommitment is the requester-side copy of a booking.
type RequesterCommitment struct {
	ProviderID   string `dynamodbav:"providerId" json:"providerId"`
	ProviderName string `dynamodbav:"providerName" json:"providerName"`
	Specialty    string `dynamodbav:"specialty" json:"specialty"`
	Date         string `dynamodbav:"date" json:"date"`
	Slot         string `dynamodbav:"slot" json:"slot"`
}

// Key identifies the full value for duplicate-safe unions.
func (c RequesterCommitment) Key() string {
	return strings.Join([]string{c.ProviderID, c.ProviderName, c.Specialty, c.Date, c.Slot}, "|")
}

// ProviderCommitment is the provider-side copy of a booking.
type ProviderCommitment struct {
	Date          string `dynamodbav:"date" json:"date"`
	Slot          string `dynamodbav:"slot" json:"slot"`
	RequesterName string `dynamodbav:"requesterName" json:"requesterName"`
}

// SlotKey identifies the (date, slot) pair; a provider holds at most one
// commitment per key.
func (c ProviderCommitment) SlotKey() string {
	return SlotKey(c.Date, c.Slot)
}

// SlotKey joins a date and slot into the provider-side union key.
func SlotKey(date, slot string) string {
	return date + "|" + slot
}

// RequesterCommitments decodes the requester-side list, skipping entries
// with an unexpected shape.
func (r *Requester) RequesterCommitments(logger *logging.Logger) []RequesterCommitment {
	if r == nil {
		return nil
	}
	out := make([]RequesterCommitment, 0, len(r.Commitments))
	for i, raw := range r.Commitments {
		fields, err := entryFields(raw, "providerId", "date", "slot")
		if err != nil {
			logSkipped(logger, RequestersCollection, r.ID, i, err)
			continue
		}
		out = append(out, RequesterCommitment{
			ProviderID:   fields["providerId"],
			ProviderName: fields["providerName"],
			Specialty:    fields["specialty"],
			Date:         fields["date"],
			Slot:         fields["slot"],
		})
	}
	return out
}

// ProviderCommitments decodes the provider-side list, skipping entries with
// an unexpected shape.
func (p *Provider) ProviderCommitments(logger *logging.Logger) []ProviderCommitment {
	if p == nil {
		return nil
	}
	out := make([]ProviderCommitment, 0, len(p.Commitments))
	for i, raw := range p.Commitments {
		fields, err := entryFields(raw, "date", "slot")
		if err != nil {
			logSkipped(logger, ProvidersCollection, p.ID, i, err)
			continue
		}
		out = append(out, ProviderCommitment{
			Date:          fields["date"],
			Slot:          fields["slot"],
			RequesterName: fields["requesterName"],
		})
	}
	return out
}

// HasSlot reports whether any well-formed commitment occupies (date, slot).
func (p *Provider) HasSlot(date, slot string, logger *logging.Logger) bool {
	for _, c := range p.ProviderCommitments(logger) {
		if c.Date == date && c.Slot == slot {
			return true
		}
	}
	return false
}

func entryFields(raw any, required ...string) (map[string]string, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entry is %T, not a map", raw)
	}
	fields := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	for _, name := range required {
		if strings.TrimSpace(fields[name]) == "" {
			return nil, fmt.Errorf("entry missing %s", name)
		}
	}
	return fields, nil
}

func logSkipped(logger *logging.Logger, collection, id string, index int, err error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn("skipping malformed commitment entry",
		"collection", collection,
		"id", id,
		"index", index,
		"error", err,
	)
}
