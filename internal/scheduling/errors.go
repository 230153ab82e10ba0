// Package scheduling matches requesters to available providers and commits
// appointments to both profiles.
package scheduling

import "errors"

var (
	// ErrNoProviderAvailable indicates every candidate already holds the slot.
	ErrNoProviderAvailable = errors.New("scheduling: no provider available")
	// ErrRequesterNotFound indicates the requester profile is missing.
	ErrRequesterNotFound = errors.New("scheduling: requester profile not found")
	// ErrProviderNotFound indicates the provider profile is missing.
	ErrProviderNotFound = errors.New("scheduling: provider profile not found")
	// ErrSlotTaken indicates another requester holds the provider's slot.
	ErrSlotTaken = errors.New("scheduling: slot already booked")
	// ErrOrphanedCommitment indicates the requester-side write could not be
	// rolled back after the provider-side write failed.
	ErrOrphanedCommitment = errors.New("scheduling: orphaned requester commitment")
	// ErrInvalidCommitment indicates missing or malformed booking fields.
	ErrInvalidCommitment = errors.New("scheduling: invalid commitment")
	// ErrRegistrationIncomplete indicates the requester has not submitted intake.
	ErrRegistrationIncomplete = errors.New("scheduling: requester registration incomplete")
	// ErrInvalidToken indicates a booking token failed verification.
	ErrInvalidToken = errors.New("scheduling: invalid booking token")
	// ErrTokensDisabled indicates no booking token secret is configured.
	ErrTokensDisabled = errors.New("scheduling: booking tokens disabled")
)

// UserMessage maps a scheduling failure to the message shown to the person
// booking.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoProviderAvailable):
		return "No provider is available for that time. Please pick another slot."
	case errors.Is(err, ErrRequesterNotFound):
		return "We could not find your profile. Please complete registration."
	case errors.Is(err, ErrProviderNotFound):
		return "That provider is no longer available."
	case errors.Is(err, ErrSlotTaken):
		return "That slot was just booked by someone else."
	case errors.Is(err, ErrOrphanedCommitment):
		return "Your booking could not be completed. Our team has been notified."
	case errors.Is(err, ErrInvalidCommitment):
		return "Please choose a specialty, date and time."
	case errors.Is(err, ErrRegistrationIncomplete):
		return "Please complete your medical intake before booking."
	case errors.Is(err, ErrInvalidToken):
		return "This booking code is invalid or expired."
	case errors.Is(err, ErrTokensDisabled):
		return "Booking codes are not available right now."
	default:
		return "Booking failed. Please try again."
	}
}
