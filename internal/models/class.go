package models

import "time"

// Cycle groups class levels into lower and upper secondary.
type Cycle string

const (
	CycleLowerSecondary Cycle = "LOWER_SECONDARY"
	CycleUpperSecondary Cycle = "UPPER_SECONDARY"
)

// Class represents a section of a level for one school year, e.g. 6EME A 2024-2025.
type Class struct {
	ID          string    `db:"id" json:"id"`
	Level       string    `db:"level" json:"level"`
	Name        string    `db:"name" json:"name"`
	Capacity    int       `db:"capacity" json:"capacity"`
	SchoolYear  string    `db:"school_year" json:"school_year"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Label renders the class as "<level> <name>".
func (c Class) Label() string {
	return c.Level + " " + c.Name
}

// ClassDetail extends Class with enrollment figures.
type ClassDetail struct {
	Class
	StudentCount int `db:"student_count" json:"student_count"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	Level      string
	SchoolYear string
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// ClassSubject associates a subject with a class and its coefficient.
type ClassSubject struct {
	ClassID     string `db:"class_id" json:"class_id"`
	SubjectID   string `db:"subject_id" json:"subject_id"`
	Coefficient int    `db:"coefficient" json:"coefficient"`
}

// ClassSubjectDetail includes subject information for responses.
type ClassSubjectDetail struct {
	ClassSubject
	SubjectName  string       `db:"subject_name" json:"subject_name"`
	SubjectCode  *string      `db:"subject_code" json:"subject_code,omitempty"`
	SubjectLevel SubjectLevel `db:"subject_level" json:"subject_level"`
}

// ClassOverview is a class with its subject associations.
type ClassOverview struct {
	ClassDetail
	Subjects []ClassSubjectDetail `json:"subjects"`
}
