package models

import "time"

// AbsenceSlot is the part of the day a student missed.
type AbsenceSlot string

const (
	AbsenceSlotMorning   AbsenceSlot = "MORNING"
	AbsenceSlotAfternoon AbsenceSlot = "AFTERNOON"
	AbsenceSlotFullDay   AbsenceSlot = "FULL_DAY"
)

// Absence records a missed half day or day.
type Absence struct {
	ID                    string      `db:"id" json:"id"`
	StudentID             string      `db:"student_id" json:"student_id"`
	Date                  time.Time   `db:"date" json:"date"`
	Slot                  AbsenceSlot `db:"slot" json:"slot"`
	Justified             bool        `db:"justified" json:"justified"`
	Reason                *string     `db:"reason" json:"reason,omitempty"`
	JustificationDocument *string     `db:"justification_document" json:"justification_document,omitempty"`
	Comment               *string     `db:"comment" json:"comment,omitempty"`
	CreatedAt             time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time   `db:"updated_at" json:"updated_at"`
}

// AbsenceFilter scopes absence listings. From and To are inclusive dates.
type AbsenceFilter struct {
	StudentID string
	ClassID   string
	From      *time.Time
	To        *time.Time
	Justified *bool
	Page      int
	PageSize  int
}

// AbsenceSummary counts absences for a student.
type AbsenceSummary struct {
	StudentID   string `db:"student_id" json:"student_id"`
	Total       int    `db:"total" json:"total"`
	Justified   int    `db:"justified" json:"justified"`
	Unjustified int    `db:"unjustified" json:"unjustified"`
}
