package models

import "time"

// GradeType categorises a grade entry.
type GradeType string

const (
	GradeTypeHomework GradeType = "HOMEWORK"
	GradeTypeExam     GradeType = "EXAM"
	GradeTypeQuiz     GradeType = "QUIZ"
	GradeTypeOral     GradeType = "ORAL"
)

// Grade bounds on the 0-20 scale.
const (
	MinGradeValue = 0.0
	MaxGradeValue = 20.0
)

// Grade is one mark for a student in a subject, period and assessment type.
type Grade struct {
	ID         string    `db:"id" json:"id"`
	StudentID  string    `db:"student_id" json:"student_id"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	Value      float64   `db:"value" json:"value"`
	Type       GradeType `db:"type" json:"type"`
	Period     Period    `db:"period" json:"period"`
	SchoolYear string    `db:"school_year" json:"school_year"`
	Comment    *string   `db:"comment" json:"comment,omitempty"`
	ReportID   *string   `db:"report_id" json:"report_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// GradeDetail adds subject naming for display and aggregation.
type GradeDetail struct {
	Grade
	SubjectName string `db:"subject_name" json:"subject_name"`
}

// GradeFilter allows querying of grade entries.
type GradeFilter struct {
	StudentID  string
	SubjectID  string
	TeacherID  string
	ClassID    string
	Period     Period
	SchoolYear string
	Type       GradeType
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
