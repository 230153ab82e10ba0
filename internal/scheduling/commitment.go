package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/internal/profiles"
)

const (
	dateLayout = "2006-01-02"
	slotLayout = "15:04"
)

// Commitment is a booked (provider, date, slot) pairing before it is split
// into its requester-side and provider-side copies.
type Commitment struct {
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	Specialty    string `json:"specialty"`
	Date         string `json:"date"`
	Slot         string `json:"slot"`
}

// Validate checks the fields every commitment needs.
func (c Commitment) Validate() error {
	if strings.TrimSpace(c.ProviderID) == "" {
		return fmt.Errorf("%w: provider id required", ErrInvalidCommitment)
	}
	return validateSlot(c.Date, c.Slot)
}

// RequesterSide is the copy embedded in the requester profile.
func (c Commitment) RequesterSide() profiles.RequesterCommitment {
	return profiles.RequesterCommitment{
		ProviderID:   c.ProviderID,
		ProviderName: c.ProviderName,
		Specialty:    c.Specialty,
		Date:         c.Date,
		Slot:         c.Slot,
	}
}

// ProviderSide is the copy embedded in the provider profile.
func (c Commitment) ProviderSide(requesterName string) profiles.ProviderCommitment {
	return profiles.ProviderCommitment{
		Date:          c.Date,
		Slot:          c.Slot,
		RequesterName: requesterName,
	}
}

func validateSlot(date, slot string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidCommitment)
	}
	if _, err := time.Parse(slotLayout, slot); err != nil {
		return fmt.Errorf("%w: slot must be HH:MM", ErrInvalidCommitment)
	}
	return nil
}
