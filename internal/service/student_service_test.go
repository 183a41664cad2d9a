package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
	"github.com/noah-isme/school-bulletin-api/pkg/mailer"
)

type mockStudentRepo struct {
	students      map[string]*models.StudentDetail
	grades        map[string]int
	failRollOnce  int
	rollCollision string
	locked        []string
}

func newMockStudentRepo() *mockStudentRepo {
	return &mockStudentRepo{students: map[string]*models.StudentDetail{}, grades: map[string]int{}}
}

func (m *mockStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	var out []models.StudentDetail
	for _, s := range m.students {
		if filter.GuardianID != "" && s.GuardianID != filter.GuardianID {
			continue
		}
		if filter.ClassID != "" && s.ClassID != filter.ClassID {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockStudentRepo) ListByClass(ctx context.Context, exec sqlx.ExtContext, classID string) ([]models.StudentDetail, error) {
	out, _, err := m.List(ctx, models.StudentFilter{ClassID: classID})
	return out, err
}

func (m *mockStudentRepo) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.StudentDetail, error) {
	if s, ok := m.students[id]; ok {
		copy := *s
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentRepo) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if m.failRollOnce > 0 {
		m.failRollOnce--
		return fmt.Errorf("create student: %w", &pq.Error{Code: "23505", Constraint: "students_roll_number_key"})
	}
	for _, s := range m.students {
		if s.RollNumber == student.RollNumber {
			return fmt.Errorf("create student: %w", &pq.Error{Code: "23505", Constraint: "students_roll_number_key"})
		}
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	m.students[student.ID] = &models.StudentDetail{Student: *student}
	return nil
}

func (m *mockStudentRepo) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if s, ok := m.students[student.ID]; ok {
		s.Student = *student
	}
	return nil
}

func (m *mockStudentRepo) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	delete(m.students, id)
	return nil
}

func (m *mockStudentRepo) CountByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error) {
	n := 0
	for _, s := range m.students {
		if s.ClassID == classID {
			n++
		}
	}
	return n, nil
}

func (m *mockStudentRepo) CountGrades(ctx context.Context, exec sqlx.ExtContext, id string) (int, error) {
	return m.grades[id], nil
}

func (m *mockStudentRepo) NextRollSequence(ctx context.Context, exec sqlx.ExtContext, prefix string) (int, error) {
	max := 0
	for _, s := range m.students {
		if strings.HasPrefix(s.RollNumber, prefix+"-") {
			var n int
			fmt.Sscanf(strings.TrimPrefix(s.RollNumber, prefix+"-"), "%d", &n)
			if n > max {
				max = n
			}
		}
	}
	return max + 1, nil
}

func (m *mockStudentRepo) LockRollPrefix(ctx context.Context, exec sqlx.ExtContext, prefix string) error {
	m.locked = append(m.locked, prefix)
	return nil
}

type mockGuardianRepo struct {
	guardians map[string]*models.GuardianDetail
}

func newMockGuardianRepo() *mockGuardianRepo {
	return &mockGuardianRepo{guardians: map[string]*models.GuardianDetail{}}
}

func (m *mockGuardianRepo) Create(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error {
	if guardian.ID == "" {
		guardian.ID = uuid.NewString()
	}
	m.guardians[guardian.ID] = &models.GuardianDetail{Guardian: *guardian}
	return nil
}

func (m *mockGuardianRepo) FindByUserID(ctx context.Context, exec sqlx.ExtContext, userID string) (*models.Guardian, error) {
	for _, g := range m.guardians {
		if g.UserID == userID {
			copy := g.Guardian
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockGuardianRepo) FindByID(ctx context.Context, id string) (*models.GuardianDetail, error) {
	if g, ok := m.guardians[id]; ok {
		copy := *g
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGuardianRepo) List(ctx context.Context, filter models.GuardianFilter) ([]models.GuardianDetail, int, error) {
	var out []models.GuardianDetail
	for _, g := range m.guardians {
		out = append(out, *g)
	}
	return out, len(out), nil
}

func (m *mockGuardianRepo) Update(ctx context.Context, exec sqlx.ExtContext, guardian *models.Guardian) error {
	if g, ok := m.guardians[guardian.ID]; ok {
		g.Guardian = *guardian
	}
	return nil
}

func (m *mockGuardianRepo) AdjustDependents(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error {
	g, ok := m.guardians[id]
	if !ok {
		return sql.ErrNoRows
	}
	g.DependentsCount += delta
	if g.DependentsCount < 0 {
		g.DependentsCount = 0
	}
	return nil
}

type mockClassLookup struct {
	classes map[string]*models.ClassDetail
}

func (m *mockClassLookup) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ClassDetail, error) {
	if c, ok := m.classes[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mailer.Credentials
	err  error
}

func (m *recordingMailer) SendCredentials(ctx context.Context, creds mailer.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, creds)
	return m.err
}

const (
	classSixA = "3f1c2a9e-0d7b-4c55-9a8e-6f0e1b2c3d4a"
	classFull = "7a2b3c4d-5e6f-4a1b-8c9d-0e1f2a3b4c5d"
)

type studentFixture struct {
	svc       *StudentService
	students  *mockStudentRepo
	users     *mockUserRepo
	guardians *mockGuardianRepo
	mailer    *recordingMailer
	metrics   *MetricsService
}

func newStudentFixture(t *testing.T, tx txProvider) studentFixture {
	t.Helper()
	f := studentFixture{
		students:  newMockStudentRepo(),
		users:     newMockUserRepo(),
		guardians: newMockGuardianRepo(),
		mailer:    &recordingMailer{},
		metrics:   NewMetricsService(),
	}
	classes := &mockClassLookup{classes: map[string]*models.ClassDetail{
		classSixA: {Class: models.Class{ID: classSixA, Level: "6EME", Name: "A", Capacity: 30, SchoolYear: "2024-2025"}},
		classFull: {Class: models.Class{ID: classFull, Level: "TERMINALE", Name: "B", Capacity: 1, SchoolYear: "2024-2025"}},
	}}
	f.svc = NewStudentService(StudentServiceDeps{
		Tx:        tx,
		Students:  f.students,
		Users:     f.users,
		Guardians: f.guardians,
		Classes:   classes,
		Mailer:    f.mailer,
		Metrics:   f.metrics,
		Config:    ProvisioningConfig{DefaultPassword: "password123", MaxRetries: 2, LoginURL: "http://school.test/login"},
		Logger:    zap.NewNop(),
	})
	return f
}

func enrollRequest(email, guardianEmail, classID string) EnrollStudentRequest {
	return EnrollStudentRequest{
		Email:      email,
		FirstName:  "Aminata",
		LastName:   "Ndiaye",
		BirthDate:  "2012-03-14",
		BirthPlace: "Dakar",
		Gender:     "F",
		ClassID:    classID,
		Guardian:   GuardianInput{Email: guardianEmail, FirstName: "Ibrahima", LastName: "Ndiaye"},
	}
}

func TestStudentServiceEnrollCreatesGuardianAndRollNumber(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	first, err := f.svc.Enroll(context.Background(), enrollRequest("aminata@school.test", "parent@school.test", classSixA), adminMeta())
	require.NoError(t, err)
	assert.Equal(t, "2024-6A-001", first.RollNumber)
	assert.Equal(t, "2024-2025", first.SchoolYear)

	sibling := enrollRequest("moussa@school.test", "PARENT@school.test", classSixA)
	second, err := f.svc.Enroll(context.Background(), sibling, adminMeta())
	require.NoError(t, err)
	assert.Equal(t, "2024-6A-002", second.RollNumber)
	assert.Equal(t, first.GuardianID, second.GuardianID, "guardian is reused by e-mail")

	require.Len(t, f.guardians.guardians, 1)
	assert.Equal(t, 2, f.guardians.guardians[first.GuardianID].DependentsCount)

	guardian := f.users.byEmail("parent@school.test")
	require.NotNil(t, guardian)
	assert.Equal(t, models.RoleGuardian, guardian.Role)

	require.Len(t, f.mailer.sent, 3, "guardian once, then each student")
	assert.Equal(t, "password123", f.mailer.sent[0].Password)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceEnrollRetriesRollNumberCollision(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	f.students.failRollOnce = 1
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	student, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "p@school.test", classSixA), adminMeta())
	require.NoError(t, err)
	assert.Equal(t, "2024-6A-001", student.RollNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceEnrollGivesUpAfterRetries(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	f.students.failRollOnce = 10
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	_, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "p@school.test", classSixA), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Empty(t, f.students.students)
	assert.Empty(t, f.mailer.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceEnrollRejectsFullClassAndBadInput(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "p@school.test", classFull), adminMeta())
	require.NoError(t, err)

	_, err = f.svc.Enroll(context.Background(), enrollRequest("b@school.test", "p@school.test", classFull), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.Enroll(context.Background(), enrollRequest("c@school.test", "p@school.test", uuid.NewString()), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	bad := enrollRequest("c@school.test", "p@school.test", classSixA)
	bad.Gender = "X"
	bad.BirthDate = "14/03/2012"
	_, err = f.svc.Enroll(context.Background(), bad, adminMeta())
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Fields, "gender")
	assert.Contains(t, appErr.Fields, "birth_date")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceEnrollRejectsNonGuardianEmail(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	f.users.users["t1"] = &models.User{ID: "t1", Email: "teacher@school.test", Role: models.RoleTeacher}
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "teacher@school.test", classSixA), adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceEnrollMailFailureIsNotFatal(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	f.mailer.err = errors.New("smtp down")
	mock.ExpectBegin()
	mock.ExpectCommit()

	_, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "p@school.test", classSixA), adminMeta())
	require.NoError(t, err)
	assert.Len(t, f.mailer.sent, 2)
}

func TestStudentServiceDelete(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	mock.ExpectBegin()
	mock.ExpectCommit()
	student, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "p@school.test", classSixA), adminMeta())
	require.NoError(t, err)

	f.students.grades[student.ID] = 2
	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, f.svc.Delete(context.Background(), student.ID, adminMeta()), appErrors.ErrConflict)

	f.students.grades[student.ID] = 0
	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, f.svc.Delete(context.Background(), student.ID, adminMeta()))
	assert.Empty(t, f.students.students)
	assert.Nil(t, f.users.byEmail("a@school.test"))
	assert.Equal(t, 0, f.guardians.guardians[student.GuardianID].DependentsCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceUpdateTransfersClass(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	mock.ExpectBegin()
	mock.ExpectCommit()
	student, err := f.svc.Enroll(context.Background(), enrollRequest("a@school.test", "p@school.test", classSixA), adminMeta())
	require.NoError(t, err)

	target := classFull
	place := "Thiès"
	mock.ExpectBegin()
	mock.ExpectCommit()
	updated, err := f.svc.Update(context.Background(), student.ID, UpdateStudentRequest{ClassID: &target, BirthPlace: &place}, adminMeta())
	require.NoError(t, err)
	assert.Equal(t, classFull, updated.ClassID)
	assert.Equal(t, "Thiès", updated.BirthPlace)
	assert.Equal(t, []string{"2024-TB"}, f.students.locked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceTransferLocksTargetClassBeforeCapacityCheck(t *testing.T) {
	tx, mock := newTxProviderMock(t)
	f := newStudentFixture(t, tx)
	f.students.students["s1"] = &models.StudentDetail{Student: models.Student{ID: "s1", ClassID: classFull}}
	f.students.students["s2"] = &models.StudentDetail{Student: models.Student{ID: "s2", ClassID: classSixA}}

	target := classFull
	mock.ExpectBegin()
	mock.ExpectRollback()
	_, err := f.svc.Update(context.Background(), "s2", UpdateStudentRequest{ClassID: &target}, adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, []string{"2024-TB"}, f.students.locked)
	assert.Equal(t, classSixA, f.students.students["s2"].ClassID)

	same := classSixA
	mock.ExpectBegin()
	mock.ExpectCommit()
	_, err = f.svc.Update(context.Background(), "s2", UpdateStudentRequest{ClassID: &same}, adminMeta())
	require.NoError(t, err)
	assert.Len(t, f.students.locked, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentServiceGetForEnforcesOwnership(t *testing.T) {
	f := newStudentFixture(t, nil)
	f.students.students["s1"] = &models.StudentDetail{Student: models.Student{ID: "s1", UserID: "student-user"}, GuardianUserID: "guardian-user"}

	_, err := f.svc.GetFor(context.Background(), "s1", "any", models.RoleTeacher)
	require.NoError(t, err)
	_, err = f.svc.GetFor(context.Background(), "s1", "guardian-user", models.RoleGuardian)
	require.NoError(t, err)
	_, err = f.svc.GetFor(context.Background(), "s1", "student-user", models.RoleStudent)
	require.NoError(t, err)

	_, err = f.svc.GetFor(context.Background(), "s1", "other-guardian", models.RoleGuardian)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	_, err = f.svc.GetFor(context.Background(), "missing", "any", models.RoleAdmin)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestGuardianServiceChildrenAndUpdate(t *testing.T) {
	students := newMockStudentRepo()
	guardians := newMockGuardianRepo()
	guardians.guardians["g1"] = &models.GuardianDetail{Guardian: models.Guardian{ID: "g1", UserID: "gu1"}}
	students.students["s1"] = &models.StudentDetail{Student: models.Student{ID: "s1", GuardianID: "g1"}}
	students.students["s2"] = &models.StudentDetail{Student: models.Student{ID: "s2", GuardianID: "g2"}}
	svc := NewGuardianService(guardians, students, nil, nil, nil)

	children, err := svc.Children(context.Background(), "g1", "gu1", models.RoleGuardian)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "s1", children[0].ID)

	_, err = svc.Children(context.Background(), "g1", "someone", models.RoleGuardian)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	profession := "<i>Engineer</i>"
	updated, err := svc.Update(context.Background(), "g1", UpdateGuardianRequest{Profession: &profession}, adminMeta())
	require.NoError(t, err)
	require.NotNil(t, updated.Profession)
	assert.Equal(t, "Engineer", *updated.Profession)
}
