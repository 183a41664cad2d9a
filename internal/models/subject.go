package models

import "time"

// SubjectLevel states which cycles a subject is taught in.
type SubjectLevel string

const (
	SubjectLevelLowerSecondary SubjectLevel = "LOWER_SECONDARY"
	SubjectLevelUpperSecondary SubjectLevel = "UPPER_SECONDARY"
	SubjectLevelAll            SubjectLevel = "ALL"
)

// AppliesTo reports whether a subject of this level is taught in cycle.
func (l SubjectLevel) AppliesTo(cycle Cycle) bool {
	return l == SubjectLevelAll || string(l) == string(cycle)
}

// Subject represents an academic subject.
type Subject struct {
	ID          string       `db:"id" json:"id"`
	Name        string       `db:"name" json:"name"`
	Code        *string      `db:"code" json:"code,omitempty"`
	Description *string      `db:"description" json:"description,omitempty"`
	Level       SubjectLevel `db:"level" json:"level"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	Level     string
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
