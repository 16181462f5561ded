package profile

// Status is the live state reported for a single profile.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Validity is the coarse registry-wide validation flag.
type Validity string

const (
	Invalid Validity = "INVALID"
	Valid   Validity = "VALID"
)
