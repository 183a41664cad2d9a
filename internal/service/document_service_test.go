package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/storage"
)

type mockDocumentRepo struct {
	docs      map[string]*models.Document
	createErr error
}

func (m *mockDocumentRepo) List(ctx context.Context, filter models.DocumentFilter) ([]models.Document, int, error) {
	var out []models.Document
	for _, d := range m.docs {
		if filter.StudentID != "" && d.StudentID != filter.StudentID {
			continue
		}
		out = append(out, *d)
	}
	return out, len(out), nil
}

func (m *mockDocumentRepo) FindByID(ctx context.Context, id string) (*models.Document, error) {
	if d, ok := m.docs[id]; ok {
		copy := *d
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDocumentRepo) Create(ctx context.Context, document *models.Document) error {
	if m.createErr != nil {
		return m.createErr
	}
	document.ID = uuid.NewString()
	copy := *document
	m.docs[document.ID] = &copy
	return nil
}

func (m *mockDocumentRepo) SetValidated(ctx context.Context, id string, validated bool) error {
	m.docs[id].Validated = validated
	return nil
}

func (m *mockDocumentRepo) Delete(ctx context.Context, id string) error {
	delete(m.docs, id)
	return nil
}

var samplePDF = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

func newDocumentFixture(t *testing.T, cfg DocumentConfig) (*DocumentService, *mockDocumentRepo, *storage.LocalStorage) {
	t.Helper()
	students := newMockStudentRepo()
	students.students[studentAwa] = &models.StudentDetail{Student: models.Student{ID: studentAwa}}
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	repo := &mockDocumentRepo{docs: map[string]*models.Document{}}
	svc := NewDocumentService(repo, students, files, nil, cfg, nil, nil)
	svc.now = func() time.Time { return time.Unix(1730000000, 0) }
	return svc, repo, files
}

func wideImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x % 256), A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDocumentServiceUploadPDF(t *testing.T) {
	svc, repo, files := newDocumentFixture(t, DocumentConfig{})
	req := UploadDocumentRequest{StudentID: studentAwa, Type: string(models.DocumentBirthCertificate), FileName: "Acte de Naissance.PDF"}

	doc, err := svc.Upload(context.Background(), req, bytes.NewReader(samplePDF), adminMeta())
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.MimeType)
	assert.Equal(t, "acte-de-naissance.pdf", doc.FileName)
	assert.Equal(t, "documents/"+studentAwa+"/BIRTH_CERTIFICATE/1730000000_acte-de-naissance.pdf", doc.FilePath)
	assert.Equal(t, int64(len(samplePDF)), doc.SizeBytes)
	require.NotNil(t, doc.UploadedBy)
	assert.True(t, files.Exists(doc.FilePath))

	download, err := svc.Download(context.Background(), doc.ID)
	require.NoError(t, err)
	content, err := io.ReadAll(download.File)
	download.File.Close()
	require.NoError(t, err)
	assert.Equal(t, samplePDF, content)

	validated, err := svc.Validate(context.Background(), doc.ID, ValidateDocumentRequest{}, adminMeta())
	require.NoError(t, err)
	assert.True(t, validated.Validated)
	off := false
	validated, err = svc.Validate(context.Background(), doc.ID, ValidateDocumentRequest{Validated: &off}, adminMeta())
	require.NoError(t, err)
	assert.False(t, validated.Validated)

	require.NoError(t, svc.Delete(context.Background(), doc.ID, adminMeta()))
	assert.Empty(t, repo.docs)
	assert.False(t, files.Exists(doc.FilePath))
}

func TestDocumentServiceUploadRejections(t *testing.T) {
	svc, _, _ := newDocumentFixture(t, DocumentConfig{MaxUploadBytes: 64})
	base := UploadDocumentRequest{StudentID: studentAwa, Type: string(models.DocumentMedicalCertificate), FileName: "note.txt"}

	_, err := svc.Upload(context.Background(), base, strings.NewReader("just some plain text"), adminMeta())
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Fields, "file")

	_, err = svc.Upload(context.Background(), base, bytes.NewReader(bytes.Repeat([]byte("a"), 65)), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.Upload(context.Background(), base, bytes.NewReader(nil), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	photo := base
	photo.Type = string(models.DocumentPhoto)
	_, err = svc.Upload(context.Background(), photo, bytes.NewReader(samplePDF), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	unknown := base
	unknown.StudentID = uuid.NewString()
	_, err = svc.Upload(context.Background(), unknown, bytes.NewReader(samplePDF), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	badType := base
	badType.Type = "PASSPORT"
	_, err = svc.Upload(context.Background(), badType, bytes.NewReader(samplePDF), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestDocumentServicePhotoIsDownscaled(t *testing.T) {
	svc, _, files := newDocumentFixture(t, DocumentConfig{MaxUploadBytes: 1 << 20, PhotoMaxWidth: 300})
	req := UploadDocumentRequest{StudentID: studentAwa, Type: string(models.DocumentPhoto), FileName: "portrait.png"}

	doc, err := svc.Upload(context.Background(), req, bytes.NewReader(wideImage(t, 900, 90)), adminMeta())
	require.NoError(t, err)
	assert.Equal(t, "image/png", doc.MimeType)

	file, err := files.Open(doc.FilePath)
	require.NoError(t, err)
	defer file.Close()
	cfg, err := png.DecodeConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 30, cfg.Height)

	small, err := svc.Upload(context.Background(), req, bytes.NewReader(wideImage(t, 120, 40)), adminMeta())
	require.NoError(t, err)
	assert.Equal(t, int64(len(wideImage(t, 120, 40))), small.SizeBytes)
}

func TestDocumentServiceRemovesFileWhenRowFails(t *testing.T) {
	svc, repo, files := newDocumentFixture(t, DocumentConfig{})
	repo.createErr = errors.New("insert failed")
	req := UploadDocumentRequest{StudentID: studentAwa, Type: string(models.DocumentEnrollmentCertificate), FileName: "certificate.pdf"}

	_, err := svc.Upload(context.Background(), req, bytes.NewReader(samplePDF), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrInternal)
	assert.False(t, files.Exists("documents/"+studentAwa+"/ENROLLMENT_CERTIFICATE/1730000000_certificate.pdf"))
}
