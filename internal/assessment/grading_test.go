package assessment

import "testing"

func TestLetterGrade(t *testing.T) {
	tests := []struct {
		percentage float64
		want       string
		remark     string
	}{
		{100, "A", "Excellent"},
		{80, "A", "Excellent"},
		{79.9, "B", "Very Good"},
		{70, "B", "Very Good"},
		{69.5, "C", "Good"},
		{60, "C", "Good"},
		{50, "D", "Satisfactory"},
		{49.9, "E", "Fair"},
		{40, "E", "Fair"},
		{39.9, "F", "Needs Improvement"},
		{0, "F", "Needs Improvement"},
	}
	for _, tc := range tests {
		if got := LetterGrade(tc.percentage); got != tc.want {
			t.Errorf("LetterGrade(%.1f)=%q, want %q", tc.percentage, got, tc.want)
		}
		if got := Remark(tc.percentage); got != tc.remark {
			t.Errorf("Remark(%.1f)=%q, want %q", tc.percentage, got, tc.remark)
		}
	}
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{79.94, 79.9},
		{79.95, 80},
		{79.96, 80},
		{0, 0},
		{66.666666, 66.7},
	}
	for _, tc := range tests {
		if got := round1(tc.in); got != tc.want {
			t.Errorf("round1(%v)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
