// Package tracking holds the customs declaration store and the clearance
// check service. It is the domain collaborator the coordination core
// schedules against: the scheduler drives CheckClearances, the cache fronts
// Preview, and the backup service copies the underlying database file.
package tracking

import "time"

// Declaration statuses as reported by the external clearance source.
const (
	StatusPending      = "pending"
	StatusUnderControl = "under_control"
	StatusCleared      = "cleared"
)

// Declaration represents one tracked customs declaration.
type Declaration struct {
	ID              string     `json:"id"`
	Reference       string     `json:"reference"` // MRN or local registry number
	DeclarationType string     `json:"declaration_type"`
	Status          string     `json:"status"`
	RegisteredAt    time.Time  `json:"registered_at"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	ClearedAt       *time.Time `json:"cleared_at,omitempty"`
}

// IsCleared reports whether the declaration has finished clearance.
func (d *Declaration) IsCleared() bool {
	return d.Status == StatusCleared
}

// PreviewFilters narrows the Preview query. Zero values mean "no filter".
type PreviewFilters struct {
	Status          string
	DeclarationType string
	Reference       string
	Limit           int
}
