package models

import "time"

// Student represents an enrolled learner.
type Student struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	GuardianID string    `db:"guardian_id" json:"guardian_id"`
	ClassID    string    `db:"class_id" json:"class_id"`
	RollNumber string    `db:"roll_number" json:"roll_number"`
	BirthDate  time.Time `db:"birth_date" json:"birth_date"`
	BirthPlace string    `db:"birth_place" json:"birth_place"`
	Gender     string    `db:"gender" json:"gender"`
	SchoolYear string    `db:"school_year" json:"school_year"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail contains student information with identity and class context.
type StudentDetail struct {
	Student
	Email          string `db:"email" json:"email"`
	FirstName      string `db:"first_name" json:"first_name"`
	LastName       string `db:"last_name" json:"last_name"`
	Active         bool   `db:"active" json:"active"`
	ClassLevel     string `db:"class_level" json:"class_level"`
	ClassName      string `db:"class_name" json:"class_name"`
	GuardianUserID string `db:"guardian_user_id" json:"guardian_user_id"`
	GuardianName   string `db:"guardian_name" json:"guardian_name"`
	GuardianEmail  string `db:"guardian_email" json:"guardian_email"`
}

// FullName joins first and last name.
func (s StudentDetail) FullName() string {
	return s.FirstName + " " + s.LastName
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search     string
	ClassID    string
	GuardianID string
	SchoolYear string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
