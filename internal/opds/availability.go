package opds

import "time"

// AvailabilityKind enumerates the lending states a feed entry can advertise.
type AvailabilityKind string

const (
	AvailabilityLoanable   AvailabilityKind = "loanable"
	AvailabilityLoaned     AvailabilityKind = "loaned"
	AvailabilityOpenAccess AvailabilityKind = "open-access"
	AvailabilityHeld       AvailabilityKind = "held"
	AvailabilityHeldReady  AvailabilityKind = "held-ready"
	AvailabilityHoldable   AvailabilityKind = "holdable"
	AvailabilityRevoked    AvailabilityKind = "revoked"
)

// Availability describes the lending state advertised by the server for an
// entry. Optional fields are nil when the server did not provide them.
type Availability struct {
	Kind          AvailabilityKind `json:"kind"`
	StartDate     *time.Time       `json:"start_date,omitempty"`
	EndDate       *time.Time       `json:"end_date,omitempty"`
	QueuePosition *int             `json:"queue_position,omitempty"`
	Revocable     bool             `json:"revocable,omitempty"`
}
