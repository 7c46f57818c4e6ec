package models

import "time"

// Project represents a tracked development project/repository that sessions
// run against.
type Project struct {
	ID          string
	Name        string
	Path        string
	Description string
	DefaultTask string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
