package models

import "time"

// DocumentType enumerates the administrative documents kept per student.
type DocumentType string

const (
	DocumentBirthCertificate      DocumentType = "BIRTH_CERTIFICATE"
	DocumentEnrollmentCertificate DocumentType = "ENROLLMENT_CERTIFICATE"
	DocumentPhoto                 DocumentType = "PHOTO"
	DocumentMedicalCertificate    DocumentType = "MEDICAL_CERTIFICATE"
)

// Document is an uploaded file attached to a student.
type Document struct {
	ID          string       `db:"id" json:"id"`
	StudentID   string       `db:"student_id" json:"student_id"`
	Type        DocumentType `db:"type" json:"type"`
	FileName    string       `db:"file_name" json:"file_name"`
	FilePath    string       `db:"file_path" json:"-"`
	MimeType    string       `db:"mime_type" json:"mime_type"`
	SizeBytes   int64        `db:"size_bytes" json:"size_bytes"`
	SubmittedAt time.Time    `db:"submitted_at" json:"submitted_at"`
	Validated   bool         `db:"validated" json:"validated"`
	UploadedBy  *string      `db:"uploaded_by" json:"uploaded_by,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// DocumentFilter scopes document listings.
type DocumentFilter struct {
	StudentID string
	Type      DocumentType
	Validated *bool
	Page      int
	PageSize  int
}
