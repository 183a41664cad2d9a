package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/storage"
)

const (
	mimePDF  = "application/pdf"
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

type documentRepository interface {
	List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error)
	FindByID(ctx context.Context, id string) (*models.Document, error)
	Create(ctx context.Context, document *models.Document) error
	SetValidated(ctx context.Context, id string, validated bool) error
	Delete(ctx context.Context, id string) error
}

// UploadDocumentRequest describes an uploaded file. FileName is the client supplied name.
type UploadDocumentRequest struct {
	StudentID string `json:"student_id" form:"student_id" validate:"required,uuid"`
	Type      string `json:"type" form:"type" validate:"required,oneof=BIRTH_CERTIFICATE ENROLLMENT_CERTIFICATE PHOTO MEDICAL_CERTIFICATE"`
	FileName  string `json:"file_name" validate:"required,max=255"`
}

// ValidateDocumentRequest sets the validated flag. Without a value the flag is flipped.
type ValidateDocumentRequest struct {
	Validated *bool `json:"validated"`
}

// DocumentDownload is an opened document file. Callers close File.
type DocumentDownload struct {
	Document *models.Document
	File     *os.File
	Filename string
}

// DocumentConfig bounds uploads.
type DocumentConfig struct {
	MaxUploadBytes   int64
	AllowedMIMEs     []string
	PhotoMaxWidth    int
	PhotoJPEGQuality int
}

func (c DocumentConfig) withDefaults() DocumentConfig {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 2 << 20
	}
	if len(c.AllowedMIMEs) == 0 {
		c.AllowedMIMEs = []string{mimePDF, mimeJPEG, mimePNG}
	}
	if c.PhotoMaxWidth <= 0 {
		c.PhotoMaxWidth = 600
	}
	if c.PhotoJPEGQuality <= 0 || c.PhotoJPEGQuality > 100 {
		c.PhotoJPEGQuality = 85
	}
	return c
}

// DocumentService stores administrative documents attached to students.
type DocumentService struct {
	repo      documentRepository
	students  studentLookup
	files     fileStore
	audit     auditRecorder
	config    DocumentConfig
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDocumentService constructs the document service.
func NewDocumentService(repo documentRepository, students studentLookup, files fileStore, audit auditRecorder, config DocumentConfig, validate *validator.Validate, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		repo:      repo,
		students:  students,
		files:     files,
		audit:     audit,
		config:    config.withDefaults(),
		validator: defaultValidator(validate),
		logger:    defaultLogger(logger),
		now:       time.Now,
	}
}

// List returns documents matching the filter.
func (s *DocumentService) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, *models.Pagination, error) {
	docs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list documents")
	}
	return docs, pagination(filter.Page, filter.PageSize, total), nil
}

// Get returns document metadata.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "document")
	}
	return doc, nil
}

// Upload sniffs, bounds and stores a document. Photos wider than the configured width are downscaled.
func (s *DocumentService) Upload(ctx context.Context, req UploadDocumentRequest, content io.Reader, meta models.RequestMeta) (*models.Document, error) {
	if err := validate(s.validator, req); err != nil {
		return nil, err
	}
	if _, err := s.students.FindByID(ctx, nil, req.StudentID); err != nil {
		return nil, lookupError(err, "student")
	}

	data, err := io.ReadAll(io.LimitReader(content, s.config.MaxUploadBytes+1))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "failed to read upload")
	}
	if len(data) == 0 {
		return nil, appErrors.Field("file", "is empty")
	}
	if int64(len(data)) > s.config.MaxUploadBytes {
		return nil, appErrors.Field("file", fmt.Sprintf("must be at most %d bytes", s.config.MaxUploadBytes))
	}

	detected := mimetype.Detect(data)
	mime := strings.TrimSpace(strings.SplitN(detected.String(), ";", 2)[0])
	if !mimetype.EqualsAny(mime, s.config.AllowedMIMEs...) {
		return nil, appErrors.Field("file", "file type "+mime+" is not allowed")
	}

	docType := models.DocumentType(req.Type)
	ext := detected.Extension()
	if docType == models.DocumentPhoto {
		if mime != mimeJPEG && mime != mimePNG {
			return nil, appErrors.Field("file", "photo must be a JPEG or PNG image")
		}
		if data, err = s.downscale(data, mime); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	safeName := safeFileName(req.FileName, ext)
	name := fmt.Sprintf("documents/%s/%s/%d_%s", req.StudentID, docType, now.Unix(), safeName)
	stored, err := s.files.Save(name, data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store document")
	}

	doc := &models.Document{
		StudentID:   req.StudentID,
		Type:        docType,
		FileName:    safeName,
		FilePath:    stored,
		MimeType:    mime,
		SizeBytes:   int64(len(data)),
		SubmittedAt: now,
	}
	if meta.ActorID != "" {
		uploader := meta.ActorID
		doc.UploadedBy = &uploader
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		if rmErr := s.files.Delete(stored); rmErr != nil {
			s.logger.Warn("failed to remove orphaned document", zap.String("path", stored), zap.Error(rmErr))
		}
		return nil, appErrors.Internal(err, "failed to save document")
	}

	s.logger.Info("document uploaded",
		zap.String("document_id", doc.ID),
		zap.String("student_id", doc.StudentID),
		zap.String("type", string(doc.Type)),
		zap.Int64("size_bytes", doc.SizeBytes),
	)
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionCreate, "documents", doc.ID)
	return doc, nil
}

func (s *DocumentService) downscale(data []byte, mime string) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, appErrors.Field("file", "image could not be decoded")
	}
	if img.Bounds().Dx() <= s.config.PhotoMaxWidth {
		return data, nil
	}
	resized := imaging.Resize(img, s.config.PhotoMaxWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	format, opts := imaging.PNG, []imaging.EncodeOption(nil)
	if mime == mimeJPEG {
		format, opts = imaging.JPEG, []imaging.EncodeOption{imaging.JPEGQuality(s.config.PhotoJPEGQuality)}
	}
	if err := imaging.Encode(&buf, resized, format, opts...); err != nil {
		return nil, appErrors.Internal(err, "failed to encode photo")
	}
	return buf.Bytes(), nil
}

// Download opens a stored document.
func (s *DocumentService) Download(ctx context.Context, id string) (*DocumentDownload, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	file, err := s.files.Open(doc.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document file not found")
		}
		return nil, appErrors.Internal(err, "failed to open document")
	}
	return &DocumentDownload{Document: doc, File: file, Filename: doc.FileName}, nil
}

// Validate sets or flips the validated flag.
func (s *DocumentService) Validate(ctx context.Context, id string, req ValidateDocumentRequest, meta models.RequestMeta) (*models.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	validated := !doc.Validated
	if req.Validated != nil {
		validated = *req.Validated
	}
	if err := s.repo.SetValidated(ctx, id, validated); err != nil {
		return nil, appErrors.Internal(err, "failed to validate document")
	}
	doc.Validated = validated
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionUpdate, "documents", id)
	return doc, nil
}

// Delete removes the document row and its file.
func (s *DocumentService) Delete(ctx context.Context, id string, meta models.RequestMeta) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Internal(err, "failed to delete document")
	}
	if err := s.files.Delete(doc.FilePath); err != nil {
		s.logger.Warn("failed to remove document file", zap.String("path", doc.FilePath), zap.Error(err))
	}
	recordAudit(ctx, s.audit, s.logger, meta, models.AuditActionDelete, "documents", id)
	return nil
}

// safeFileName lower-cases name, keeps letters, digits, dash and underscore, and appends ext.
func safeFileName(name, ext string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = "document"
	}
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(name))
	}
	return base + ext
}
