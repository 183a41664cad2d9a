package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole(RoleAdmin, RoleAdmin, RoleTeacher))
	assert.False(t, HasRole(RoleGuardian, RoleAdmin, RoleTeacher))
	assert.False(t, HasRole(RoleAdmin))

	u := User{Role: RoleTeacher}
	assert.True(t, u.HasRole(RoleTeacher))
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" guardian ")
	assert.True(t, ok)
	assert.Equal(t, RoleGuardian, role)

	_, ok = ParseRole("SUPERADMIN")
	assert.False(t, ok)
}

func TestParsePeriod(t *testing.T) {
	p, ok := ParsePeriod("trimester_1")
	assert.True(t, ok)
	assert.Equal(t, PeriodTrimester1, p)
	assert.Equal(t, "Trimester 1", p.Label())

	_, ok = ParsePeriod("quarter_1")
	assert.False(t, ok)
}

func TestSchoolYear(t *testing.T) {
	assert.Equal(t, "2024-2025", SchoolYearAt(time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2023-2024", SchoolYearAt(time.Date(2024, time.August, 31, 0, 0, 0, 0, time.UTC)))

	assert.True(t, ValidSchoolYear("2024-2025"))
	assert.False(t, ValidSchoolYear("2024-2026"))
	assert.False(t, ValidSchoolYear("24-25"))

	start, err := SchoolYearStart("2024-2025")
	assert.NoError(t, err)
	assert.Equal(t, 2024, start)
}

func TestSubjectLevelAppliesTo(t *testing.T) {
	assert.True(t, SubjectLevelAll.AppliesTo(CycleUpperSecondary))
	assert.True(t, SubjectLevelLowerSecondary.AppliesTo(CycleLowerSecondary))
	assert.False(t, SubjectLevelLowerSecondary.AppliesTo(CycleUpperSecondary))
}
