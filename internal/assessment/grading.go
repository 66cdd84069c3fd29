package assessment

import "math"

// Letter grade bands used for both per-subject and overall results.
// Percentages below the lowest band fall through to F.
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeE = "E"
	GradeF = "F"
)

type gradeBand struct {
	min    float64
	grade  string
	remark string
}

var gradeBands = []gradeBand{
	{80, GradeA, "Excellent"},
	{70, GradeB, "Very Good"},
	{60, GradeC, "Good"},
	{50, GradeD, "Satisfactory"},
	{40, GradeE, "Fair"},
}

// LetterGrade maps a percentage to its letter grade.
func LetterGrade(percentage float64) string {
	for _, b := range gradeBands {
		if percentage >= b.min {
			return b.grade
		}
	}
	return GradeF
}

// Remark returns the comment attached to a percentage's grade band.
func Remark(percentage float64) string {
	for _, b := range gradeBands {
		if percentage >= b.min {
			return b.remark
		}
	}
	return "Needs Improvement"
}

// round1 rounds to one decimal place, half away from zero. Report cards
// display percentages at this precision.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
