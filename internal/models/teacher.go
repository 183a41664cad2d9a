package models

import (
	"fmt"
	"time"
)

// StaffNumberPrefix starts every teacher staff number.
const StaffNumberPrefix = "ENS"

// StaffNumber formats a staff number from its sequence, e.g. ENS000042.
func StaffNumber(seq int) string {
	return fmt.Sprintf("%s%06d", StaffNumberPrefix, seq)
}

// Teacher links a TEACHER account to its staff record.
type Teacher struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Specialty   string    `db:"specialty" json:"specialty"`
	HireDate    time.Time `db:"hire_date" json:"hire_date"`
	StaffNumber string    `db:"staff_number" json:"staff_number"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TeacherDetail joins identity fields from the user account.
type TeacherDetail struct {
	Teacher
	Email     string  `db:"email" json:"email"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Phone     *string `db:"phone" json:"phone,omitempty"`
	Active    bool    `db:"active" json:"active"`
}

// TeacherFilter captures filtering options for listing teachers.
type TeacherFilter struct {
	Search    string
	Specialty string
	SubjectID string
	ClassID   string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
