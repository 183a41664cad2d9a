package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-bulletin-api/internal/grading"
	"github.com/noah-isme/school-bulletin-api/internal/models"
	appErrors "github.com/noah-isme/school-bulletin-api/pkg/errors"
)

type mockGradeRepo struct {
	grades   map[string]*models.GradeDetail
	students *mockStudentRepo
	subjects map[string]string
}

func newMockGradeRepo(students *mockStudentRepo) *mockGradeRepo {
	return &mockGradeRepo{grades: map[string]*models.GradeDetail{}, students: students, subjects: map[string]string{}}
}

func (m *mockGradeRepo) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, int, error) {
	var out []models.GradeDetail
	for _, g := range m.grades {
		if filter.StudentID != "" && g.StudentID != filter.StudentID {
			continue
		}
		if filter.Period != "" && g.Period != filter.Period {
			continue
		}
		if filter.SchoolYear != "" && g.SchoolYear != filter.SchoolYear {
			continue
		}
		out = append(out, *g)
	}
	return out, len(out), nil
}

func (m *mockGradeRepo) FindByID(ctx context.Context, id string) (*models.GradeDetail, error) {
	if g, ok := m.grades[id]; ok {
		copy := *g
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockGradeRepo) ListForStudentPeriod(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear string) ([]models.GradeDetail, error) {
	var out []models.GradeDetail
	for _, g := range m.grades {
		if g.StudentID == studentID && g.Period == period && g.SchoolYear == schoolYear {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectName < out[j].SubjectName })
	return out, nil
}

func (m *mockGradeRepo) ListForClassPeriod(ctx context.Context, exec sqlx.ExtContext, classID string, period models.Period, schoolYear string) ([]models.GradeDetail, error) {
	var out []models.GradeDetail
	for _, g := range m.grades {
		student, ok := m.students.students[g.StudentID]
		if ok && student.ClassID == classID && g.Period == period && g.SchoolYear == schoolYear {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *mockGradeRepo) Create(ctx context.Context, grade *models.Grade) error {
	for _, g := range m.grades {
		if g.StudentID == grade.StudentID && g.SubjectID == grade.SubjectID && g.Period == grade.Period && g.SchoolYear == grade.SchoolYear && g.Type == grade.Type {
			return fmt.Errorf("create grade: %w", &pq.Error{Code: "23505", Constraint: "grades_unique_entry"})
		}
	}
	grade.ID = uuid.NewString()
	m.grades[grade.ID] = &models.GradeDetail{Grade: *grade, SubjectName: m.subjects[grade.SubjectID]}
	return nil
}

func (m *mockGradeRepo) Update(ctx context.Context, grade *models.Grade) (bool, error) {
	g, ok := m.grades[grade.ID]
	if !ok || g.ReportID != nil {
		return false, nil
	}
	g.Value, g.Comment = grade.Value, grade.Comment
	return true, nil
}

func (m *mockGradeRepo) Delete(ctx context.Context, id string) (bool, error) {
	g, ok := m.grades[id]
	if !ok || g.ReportID != nil {
		return false, nil
	}
	delete(m.grades, id)
	return true, nil
}

func (m *mockGradeRepo) LinkToReport(ctx context.Context, exec sqlx.ExtContext, studentID string, period models.Period, schoolYear, reportID string) (int64, error) {
	var n int64
	for _, g := range m.grades {
		if g.StudentID == studentID && g.Period == period && g.SchoolYear == schoolYear && g.ReportID == nil {
			id := reportID
			g.ReportID = &id
			n++
		}
	}
	return n, nil
}

func (m *mockGradeRepo) UnlinkReport(ctx context.Context, exec sqlx.ExtContext, reportID string) error {
	for _, g := range m.grades {
		if g.ReportID != nil && *g.ReportID == reportID {
			g.ReportID = nil
		}
	}
	return nil
}

const testSchoolYear = "2024-2025"

// add stores a grade of the current test school year directly, bypassing validation.
func (m *mockGradeRepo) add(studentID, subjectID string, gradeType models.GradeType, period models.Period, value float64) *models.GradeDetail {
	return m.addInYear(testSchoolYear, studentID, subjectID, gradeType, period, value)
}

func (m *mockGradeRepo) addInYear(schoolYear, studentID, subjectID string, gradeType models.GradeType, period models.Period, value float64) *models.GradeDetail {
	g := &models.GradeDetail{
		Grade: models.Grade{
			ID:         uuid.NewString(),
			StudentID:  studentID,
			SubjectID:  subjectID,
			Type:       gradeType,
			Period:     period,
			SchoolYear: schoolYear,
			Value:      value,
		},
		SubjectName: m.subjects[subjectID],
	}
	m.grades[g.ID] = g
	return g
}

type mockCoefficients map[string]map[string]int

func (m mockCoefficients) Coefficients(ctx context.Context, exec sqlx.ExtContext, classID string) (map[string]int, error) {
	return m[classID], nil
}

const (
	subjectMath   = "6c1d9c4e-8a51-4c1e-9f4a-1b2c3d4e5f60"
	subjectFrench = "9e8d7c6b-5a49-4382-9170-6f5e4d3c2b1a"
)

type gradeFixture struct {
	svc         *GradeService
	grades      *mockGradeRepo
	students    *mockStudentRepo
	teachers    *mockTeacherRepo
	assignments *mockAssignmentRepo
	users       *mockUserRepo
}

func newGradeFixture(t *testing.T) gradeFixture {
	t.Helper()
	users := newMockUserRepo(&models.User{ID: "teacher-user", Role: models.RoleTeacher})
	students := newMockStudentRepo()
	students.students["s1"] = &models.StudentDetail{Student: models.Student{ID: "s1", ClassID: classSixA, SchoolYear: testSchoolYear}, FirstName: "Awa", LastName: "Diop"}
	grades := newMockGradeRepo(students)
	grades.subjects[subjectMath] = "Mathematics"
	grades.subjects[subjectFrench] = "French"
	teachers := &mockTeacherRepo{
		teachers: map[string]*models.TeacherDetail{"t1": {Teacher: models.Teacher{ID: "t1", UserID: "teacher-user"}}},
		users:    users,
		grades:   map[string]int{},
	}
	subjects := &mockSubjectRepo{subjects: map[string]*models.Subject{
		subjectMath:   {ID: subjectMath, Name: "Mathematics"},
		subjectFrench: {ID: subjectFrench, Name: "French"},
	}}
	assignments := &mockAssignmentRepo{
		subjects: map[string][]string{"t1": {subjectMath, subjectFrench}},
		classes:  map[string][]string{},
		catalog: map[string]models.Subject{
			subjectMath:   {ID: subjectMath, Name: "Mathematics"},
			subjectFrench: {ID: subjectFrench, Name: "French"},
		},
	}
	svc := NewGradeService(GradeServiceDeps{
		Grades:       grades,
		Students:     students,
		Subjects:     subjects,
		Teachers:     teachers,
		Assignments:  assignments,
		Coefficients: mockCoefficients{classSixA: {subjectMath: 4, subjectFrench: 3}},
		Audit:        users,
	})
	return gradeFixture{svc: svc, grades: grades, students: students, teachers: teachers, assignments: assignments, users: users}
}

func gradeRequest(subjectID string, value float64) CreateGradeRequest {
	return CreateGradeRequest{
		StudentID: "0b7c1f62-3a8e-4c7d-9d51-2f3e4a5b6c7d",
		SubjectID: subjectID,
		Value:     &value,
		Type:      models.GradeTypeExam,
		Period:    models.PeriodTrimester1,
	}
}

func TestGradeServiceCreateResolvesTeacher(t *testing.T) {
	f := newGradeFixture(t)
	studentID := "0b7c1f62-3a8e-4c7d-9d51-2f3e4a5b6c7d"
	f.students.students[studentID] = &models.StudentDetail{Student: models.Student{ID: studentID, ClassID: classSixA, SchoolYear: testSchoolYear}}
	ctx := context.Background()

	grade, err := f.svc.Create(ctx, gradeRequest(subjectMath, 14.5), models.RoleTeacher, models.RequestMeta{ActorID: "teacher-user"})
	require.NoError(t, err)
	assert.Equal(t, "t1", grade.TeacherID)
	assert.Equal(t, testSchoolYear, grade.SchoolYear)
	assert.Equal(t, "Mathematics", grade.SubjectName)

	_, err = f.svc.Create(ctx, gradeRequest(subjectMath, 9), models.RoleTeacher, models.RequestMeta{ActorID: "teacher-user"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = f.svc.Create(ctx, gradeRequest(subjectFrench, 12), models.RoleAdmin, adminMeta())
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Fields, "teacher_id")

	req := gradeRequest(subjectFrench, 12)
	req.TeacherID = "5d4c3b2a-1908-4766-8544-332211009988"
	_, err = f.svc.Create(ctx, req, models.RoleAdmin, adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.Create(ctx, gradeRequest(subjectFrench, 12), models.RoleTeacher, models.RequestMeta{ActorID: "someone-else"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestGradeServiceCreateRequiresSubjectAssignment(t *testing.T) {
	f := newGradeFixture(t)
	studentID := "0b7c1f62-3a8e-4c7d-9d51-2f3e4a5b6c7d"
	f.students.students[studentID] = &models.StudentDetail{Student: models.Student{ID: studentID, ClassID: classSixA, SchoolYear: testSchoolYear}}
	f.assignments.subjects["t1"] = []string{subjectMath}
	ctx := context.Background()

	_, err := f.svc.Create(ctx, gradeRequest(subjectFrench, 12), models.RoleTeacher, models.RequestMeta{ActorID: "teacher-user"})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	substitute := "7c6b5a49-3827-4160-9f5e-4d3c2b1a0f9e"
	f.teachers.teachers[substitute] = &models.TeacherDetail{Teacher: models.Teacher{ID: substitute}}
	f.assignments.subjects[substitute] = []string{subjectFrench}
	req := gradeRequest(subjectMath, 12)
	req.TeacherID = substitute
	_, err = f.svc.Create(ctx, req, models.RoleAdmin, adminMeta())
	require.Error(t, err)
	assert.Equal(t, []string{"is not assigned to this subject"}, appErrors.FromError(err).Fields["teacher_id"])

	grade, err := f.svc.Create(ctx, gradeRequest(subjectMath, 15), models.RoleTeacher, models.RequestMeta{ActorID: "teacher-user"})
	require.NoError(t, err)
	assert.Equal(t, "t1", grade.TeacherID)
	assert.Len(t, f.grades.grades, 1)
}

func TestGradeServiceCreateRejectsOutOfRangeValues(t *testing.T) {
	f := newGradeFixture(t)
	for _, value := range []float64{-0.5, 20.01} {
		_, err := f.svc.Create(context.Background(), gradeRequest(subjectMath, value), models.RoleTeacher, models.RequestMeta{ActorID: "teacher-user"})
		require.Error(t, err)
		assert.Contains(t, appErrors.FromError(err).Fields, "value")
	}

	missing := gradeRequest(subjectMath, 10)
	missing.Value = nil
	_, err := f.svc.Create(context.Background(), missing, models.RoleTeacher, models.RequestMeta{ActorID: "teacher-user"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestGradeServiceReportedGradesAreLocked(t *testing.T) {
	f := newGradeFixture(t)
	open := f.grades.add("s1", subjectMath, models.GradeTypeExam, models.PeriodTrimester1, 11)
	locked := f.grades.add("s1", subjectFrench, models.GradeTypeExam, models.PeriodTrimester1, 13)
	reportID := "r1"
	locked.ReportID = &reportID

	value := 12.0
	updated, err := f.svc.Update(context.Background(), open.ID, UpdateGradeRequest{Value: &value}, adminMeta())
	require.NoError(t, err)
	assert.Equal(t, 12.0, updated.Value)

	_, err = f.svc.Update(context.Background(), locked.ID, UpdateGradeRequest{Value: &value}, adminMeta())
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.ErrorIs(t, f.svc.Delete(context.Background(), locked.ID, adminMeta()), appErrors.ErrConflict)

	require.NoError(t, f.svc.Delete(context.Background(), open.ID, adminMeta()))
	assert.ErrorIs(t, f.svc.Delete(context.Background(), open.ID, adminMeta()), appErrors.ErrNotFound)
}

func TestGradeServiceStudentAverages(t *testing.T) {
	f := newGradeFixture(t)
	f.grades.add("s1", subjectMath, models.GradeTypeExam, models.PeriodTrimester1, 10)
	f.grades.add("s1", subjectMath, models.GradeTypeQuiz, models.PeriodTrimester1, 6)
	f.grades.add("s1", subjectFrench, models.GradeTypeExam, models.PeriodTrimester1, 15)
	f.grades.add("s1", subjectFrench, models.GradeTypeExam, models.PeriodTrimester2, 2)
	f.grades.addInYear("2023-2024", "s1", subjectFrench, models.GradeTypeExam, models.PeriodTrimester1, 20)

	avg, err := f.svc.StudentAverages(context.Background(), "s1", models.PeriodTrimester1)
	require.NoError(t, err)
	require.Len(t, avg.Subjects, 2)
	assert.Equal(t, "French", avg.Subjects[0].SubjectName)
	assert.Equal(t, 15.0, avg.Subjects[0].Average)
	assert.Equal(t, 8.0, avg.Subjects[1].Average)
	assert.Equal(t, 4, avg.Subjects[1].Coefficient)
	assert.Equal(t, 11.0, avg.Overall)
	assert.Equal(t, grading.MentionPassing, avg.Mention)
	assert.Equal(t, 3, avg.GradeCount)

	empty, err := f.svc.StudentAverages(context.Background(), "s1", models.PeriodTrimester3)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
	assert.Equal(t, 0.0, empty.Overall)

	_, err = f.svc.StudentAverages(context.Background(), "s1", models.Period("WEEK_1"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = f.svc.StudentAverages(context.Background(), "missing", models.PeriodTrimester1)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestGradeServiceListBySchoolYear(t *testing.T) {
	f := newGradeFixture(t)
	f.grades.add("s1", subjectMath, models.GradeTypeExam, models.PeriodTrimester1, 10)
	f.grades.addInYear("2023-2024", "s1", subjectMath, models.GradeTypeExam, models.PeriodTrimester1, 14)

	grades, pagination, err := f.svc.List(context.Background(), models.GradeFilter{StudentID: "s1", SchoolYear: "2023-2024"})
	require.NoError(t, err)
	require.Len(t, grades, 1)
	assert.Equal(t, 14.0, grades[0].Value)
	assert.Equal(t, 1, pagination.TotalCount)

	_, _, err = f.svc.List(context.Background(), models.GradeFilter{SchoolYear: "2023"})
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Fields, "school_year")
}
