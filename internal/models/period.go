package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a grading term: one of three trimesters or two semesters.
type Period string

const (
	PeriodTrimester1 Period = "TRIMESTER_1"
	PeriodTrimester2 Period = "TRIMESTER_2"
	PeriodTrimester3 Period = "TRIMESTER_3"
	PeriodSemester1  Period = "SEMESTER_1"
	PeriodSemester2  Period = "SEMESTER_2"
)

var periodLabels = map[Period]string{
	PeriodTrimester1: "Trimester 1",
	PeriodTrimester2: "Trimester 2",
	PeriodTrimester3: "Trimester 3",
	PeriodSemester1:  "Semester 1",
	PeriodSemester2:  "Semester 2",
}

// ParsePeriod accepts the canonical upper case form as well as lower case input.
func ParsePeriod(raw string) (Period, bool) {
	p := Period(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := periodLabels[p]
	return p, ok
}

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	_, ok := periodLabels[p]
	return ok
}

// Label is the human readable period name.
func (p Period) Label() string {
	if l, ok := periodLabels[p]; ok {
		return l
	}
	return string(p)
}

// SchoolYearRollover is the month a new school year starts.
const SchoolYearRollover = time.September

var schoolYearPattern = regexp.MustCompile(`^(\d{4})-(\d{4})$`)

// SchoolYearAt returns the school year, formatted "YYYY-YYYY", that contains t.
func SchoolYearAt(t time.Time) string {
	start := t.Year()
	if t.Month() < SchoolYearRollover {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// ValidSchoolYear checks the "YYYY-YYYY" format with consecutive years.
func ValidSchoolYear(s string) bool {
	m := schoolYearPattern.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	return end == start+1
}

// SchoolYearStart returns the first calendar year of a "YYYY-YYYY" school year.
func SchoolYearStart(s string) (int, error) {
	if !ValidSchoolYear(s) {
		return 0, fmt.Errorf("invalid school year %q", s)
	}
	return strconv.Atoi(s[:4])
}
