package models

import "time"

// Report is the persisted bulletin of a student for one period of a school year.
type Report struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	ClassID        string    `db:"class_id" json:"class_id"`
	Period         Period    `db:"period" json:"period"`
	SchoolYear     string    `db:"school_year" json:"school_year"`
	OverallAverage float64   `db:"overall_average" json:"overall_average"`
	Rank           int       `db:"rank" json:"rank"`
	ClassSize      int       `db:"class_size" json:"class_size"`
	Mention        string    `db:"mention" json:"mention"`
	Appreciation   string    `db:"appreciation" json:"appreciation"`
	PDFPath        string    `db:"pdf_path" json:"pdf_path"`
	IssuedAt       time.Time `db:"issued_at" json:"issued_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ReportFilter scopes report listings.
type ReportFilter struct {
	StudentID  string
	ClassID    string
	Period     Period
	SchoolYear string
	Page       int
	PageSize   int
}
