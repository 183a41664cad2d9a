// Package grading turns raw grade entries into subject averages, a coefficient weighted overall
// average, a class rank, a mention and a narrative appreciation. It is pure computation.
package grading

import (
	"math"
	"sort"
)

// DefaultCoefficient applies to subjects with no class association or a non positive weight.
const DefaultCoefficient = 1

// Entry is one grade value for a subject.
type Entry struct {
	SubjectID   string
	SubjectName string
	Value       float64
}

// SubjectResult is the aggregated outcome for one subject.
type SubjectResult struct {
	SubjectID   string  `json:"subject_id"`
	SubjectName string  `json:"subject_name"`
	Average     float64 `json:"average"`
	Coefficient int     `json:"coefficient"`
	GradeCount  int     `json:"grade_count"`

	mean float64
}

// NewSubjectResult builds the outcome of count grades summing to sum. Average is rounded for display
// while the exact mean is kept for Overall. A non positive coefficient becomes DefaultCoefficient.
func NewSubjectResult(subjectID, subjectName string, sum float64, count, coefficient int) SubjectResult {
	if coefficient <= 0 {
		coefficient = DefaultCoefficient
	}
	var mean float64
	if count > 0 {
		mean = sum / float64(count)
	}
	return SubjectResult{
		SubjectID:   subjectID,
		SubjectName: subjectName,
		Average:     Round2(mean),
		Coefficient: coefficient,
		GradeCount:  count,
		mean:        mean,
	}
}

// Result is the aggregated outcome for a student over one period.
type Result struct {
	Subjects     []SubjectResult `json:"subjects"`
	Overall      float64         `json:"overall_average"`
	Mention      Mention         `json:"mention"`
	Appreciation string          `json:"appreciation"`
	GradeCount   int             `json:"grade_count"`
}

// Empty reports whether no grades were aggregated.
func (r Result) Empty() bool {
	return r.GradeCount == 0
}

// Aggregate groups entries by subject, averages each subject without weighting grade types,
// and combines subject means with their coefficients. An empty input yields an overall of 0.
func Aggregate(entries []Entry, coefficients map[string]int) Result {
	subjects := SubjectAverages(entries, coefficients)
	overall := Overall(subjects)
	return Result{
		Subjects:     subjects,
		Overall:      overall,
		Mention:      MentionFor(overall),
		Appreciation: AppreciationFor(overall),
		GradeCount:   len(entries),
	}
}

// SubjectAverages computes the arithmetic mean of each subject's entries, sorted by subject name.
func SubjectAverages(entries []Entry, coefficients map[string]int) []SubjectResult {
	type acc struct {
		name  string
		sum   float64
		count int
	}
	groups := make(map[string]*acc)
	for _, e := range entries {
		g, ok := groups[e.SubjectID]
		if !ok {
			g = &acc{name: e.SubjectName}
			groups[e.SubjectID] = g
		}
		g.sum += e.Value
		g.count++
	}

	results := make([]SubjectResult, 0, len(groups))
	for id, g := range groups {
		results = append(results, NewSubjectResult(id, g.name, g.sum, g.count, coefficients[id]))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].SubjectName == results[j].SubjectName {
			return results[i].SubjectID < results[j].SubjectID
		}
		return results[i].SubjectName < results[j].SubjectName
	})
	return results
}

// Overall returns Σ(mean × coefficient) / Σ(coefficient) rounded to two decimals, or 0 without subjects.
// Subjects must come from SubjectAverages or NewSubjectResult.
func Overall(subjects []SubjectResult) float64 {
	var weighted float64
	var total int
	for _, s := range subjects {
		weighted += s.mean * float64(s.Coefficient)
		total += s.Coefficient
	}
	if total == 0 {
		return 0
	}
	return Round2(weighted / float64(total))
}

// Rank is 1 plus the number of classmates whose average is strictly higher. Ties share a position.
func Rank(average float64, classmates []float64) int {
	rank := 1
	target := Round2(average)
	for _, other := range classmates {
		if Round2(other) > target {
			rank++
		}
	}
	return rank
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
