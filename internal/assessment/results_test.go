package assessment

import "testing"

func TestAggregateMarksFullWeight(t *testing.T) {
	marks := []MarkRow{
		{SubjectID: 1, SubjectName: "Mathematics", Assessment: "Test 1", Type: TypeTest, Score: 18, TotalMarks: 20, Weight: 20},
		{SubjectID: 1, SubjectName: "Mathematics", Assessment: "Midterm", Type: TypeMidterm, Score: 21, TotalMarks: 30, Weight: 30},
		{SubjectID: 1, SubjectName: "Mathematics", Assessment: "Endterm", Type: TypeEndterm, Score: 40, TotalMarks: 50, Weight: 50},
	}

	subjects, overall, grade, remark := AggregateMarks(marks)
	if len(subjects) != 1 {
		t.Fatalf("got %d subjects, want 1", len(subjects))
	}
	// 90%*0.2 + 70%*0.3 + 80%*0.5 = 79 over a weight of 100.
	if subjects[0].FinalPercentage != 79.0 {
		t.Fatalf("final percentage = %v, want 79.0", subjects[0].FinalPercentage)
	}
	if subjects[0].Grade != "B" || subjects[0].Remark != "Very Good" {
		t.Fatalf("grade/remark = %s/%s, want B/Very Good", subjects[0].Grade, subjects[0].Remark)
	}
	if overall != 79.0 || grade != "B" || remark != "Very Good" {
		t.Fatalf("overall = %v %s %s, want 79.0 B Very Good", overall, grade, remark)
	}
}

func TestAggregateMarksPartialWeightRenormalizes(t *testing.T) {
	// Only the midterm is recorded: the student is graded on it alone.
	marks := []MarkRow{
		{SubjectID: 2, SubjectName: "English", Assessment: "Midterm", Type: TypeMidterm, Score: 21, TotalMarks: 30, Weight: 30},
	}

	subjects, overall, _, _ := AggregateMarks(marks)
	if subjects[0].FinalPercentage != 70.0 {
		t.Fatalf("final percentage = %v, want 70.0", subjects[0].FinalPercentage)
	}
	if overall != 70.0 {
		t.Fatalf("overall = %v, want 70.0", overall)
	}
}

func TestAggregateMarksEmpty(t *testing.T) {
	subjects, overall, grade, remark := AggregateMarks(nil)
	if len(subjects) != 0 {
		t.Fatalf("got %d subjects, want 0", len(subjects))
	}
	if overall != 0 || grade != "F" || remark != "Needs Improvement" {
		t.Fatalf("got %v %s %s, want 0 F Needs Improvement", overall, grade, remark)
	}
}

func TestAggregateMarksZeroTotalMarks(t *testing.T) {
	marks := []MarkRow{
		{SubjectID: 3, SubjectName: "Science", Assessment: "Test 1", Type: TypeTest, Score: 5, TotalMarks: 0, Weight: 20},
	}
	subjects, _, _, _ := AggregateMarks(marks)
	if subjects[0].FinalPercentage != 0 {
		t.Fatalf("final percentage = %v, want 0", subjects[0].FinalPercentage)
	}
}

func TestAggregateMarksOverallIsMeanOfRoundedSubjects(t *testing.T) {
	marks := []MarkRow{
		{SubjectID: 1, SubjectName: "Mathematics", Assessment: "Endterm", Type: TypeEndterm, Score: 50, TotalMarks: 60, Weight: 100},
		{SubjectID: 2, SubjectName: "English", Assessment: "Endterm", Type: TypeEndterm, Score: 55, TotalMarks: 60, Weight: 100},
	}

	subjects, overall, _, _ := AggregateMarks(marks)
	// 50/60 = 83.333.. rounds to 83.3, 55/60 = 91.666.. rounds to 91.7.
	if subjects[0].FinalPercentage+subjects[1].FinalPercentage != 83.3+91.7 {
		t.Fatalf("subject percentages = %v, %v", subjects[0].FinalPercentage, subjects[1].FinalPercentage)
	}
	if overall != 87.5 {
		t.Fatalf("overall = %v, want 87.5", overall)
	}
}

