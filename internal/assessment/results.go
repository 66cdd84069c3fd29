package assessment

import "sort"

// MarkRow is one recorded mark joined with its assessment metadata, the
// unit the aggregation consumes.
type MarkRow struct {
	SubjectID   int64
	SubjectName string
	Assessment  string
	Type        string
	Score       float64
	TotalMarks  float64
	Weight      float64
}

type AssessmentScore struct {
	Assessment string  `json:"assessment"`
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	TotalMarks float64 `json:"total_marks"`
	Percentage float64 `json:"percentage"`
	Weight     float64 `json:"weight"`
}

type SubjectResult struct {
	SubjectID       int64             `json:"subject_id"`
	SubjectName     string            `json:"subject_name"`
	Assessments     []AssessmentScore `json:"assessments"`
	FinalPercentage float64           `json:"final_percentage"`
	Grade           string            `json:"grade"`
	Remark          string            `json:"remark"`
}

type StudentResult struct {
	StudentID       int64           `json:"student_id"`
	StudentName     string          `json:"student_name"`
	AdmissionNumber string          `json:"admission_number"`
	Subjects        []SubjectResult `json:"subjects"`
	OverallAverage  float64         `json:"overall_average"`
	OverallGrade    string          `json:"overall_grade"`
	OverallRemark   string          `json:"overall_remark"`
}

// AggregateMarks rolls a student's marks up to per-subject results and an
// overall average.
//
// Each mark contributes its percentage scaled by the assessment weight.
// A subject's final percentage is the weighted sum renormalized by the
// weights actually present, so a student with only a midterm recorded is
// graded on that midterm alone. Subjects with zero total weight score 0.
// The overall average is the plain mean of the rounded subject
// percentages; the overall grade is taken from the unrounded mean.
func AggregateMarks(marks []MarkRow) ([]SubjectResult, float64, string, string) {
	type acc struct {
		subjectID   int64
		subjectName string
		assessments []AssessmentScore
		weighted    float64
		totalWeight float64
	}

	order := make([]int64, 0)
	bySubject := make(map[int64]*acc)
	for _, m := range marks {
		a, ok := bySubject[m.SubjectID]
		if !ok {
			a = &acc{subjectID: m.SubjectID, subjectName: m.SubjectName}
			bySubject[m.SubjectID] = a
			order = append(order, m.SubjectID)
		}

		percentage := 0.0
		if m.TotalMarks > 0 {
			percentage = m.Score / m.TotalMarks * 100
		}
		a.assessments = append(a.assessments, AssessmentScore{
			Assessment: m.Assessment,
			Type:       m.Type,
			Score:      m.Score,
			TotalMarks: m.TotalMarks,
			Percentage: round1(percentage),
			Weight:     m.Weight,
		})
		a.weighted += percentage * (m.Weight / 100)
		a.totalWeight += m.Weight
	}

	subjects := make([]SubjectResult, 0, len(order))
	sum := 0.0
	for _, id := range order {
		a := bySubject[id]
		final := 0.0
		if a.totalWeight > 0 {
			final = a.weighted / a.totalWeight * 100
		}
		rounded := round1(final)
		subjects = append(subjects, SubjectResult{
			SubjectID:       a.subjectID,
			SubjectName:     a.subjectName,
			Assessments:     a.assessments,
			FinalPercentage: rounded,
			Grade:           LetterGrade(final),
			Remark:          Remark(final),
		})
		sum += rounded
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i].SubjectName < subjects[j].SubjectName })

	overall := 0.0
	if len(subjects) > 0 {
		overall = sum / float64(len(subjects))
	}
	return subjects, round1(overall), LetterGrade(overall), Remark(overall)
}
