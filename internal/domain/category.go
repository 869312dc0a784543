package domain

import "time"

// Category groups tickets for triage and reporting.
type Category struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
