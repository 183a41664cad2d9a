package models

import "time"

// Guardian links a GUARDIAN account to the students it is responsible for.
type Guardian struct {
	ID              string    `db:"id" json:"id"`
	UserID          string    `db:"user_id" json:"user_id"`
	Profession      *string   `db:"profession" json:"profession,omitempty"`
	DependentsCount int       `db:"dependents_count" json:"dependents_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// GuardianDetail joins identity fields from the user account.
type GuardianDetail struct {
	Guardian
	Email     string  `db:"email" json:"email"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Phone     *string `db:"phone" json:"phone,omitempty"`
	Address   *string `db:"address" json:"address,omitempty"`
}

// GuardianFilter captures filtering options for listing guardians.
type GuardianFilter struct {
	Search   string
	Page     int
	PageSize int
}
