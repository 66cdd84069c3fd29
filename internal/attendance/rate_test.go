package attendance

import "testing"

func TestAttendanceRateCountsLateAsAttended(t *testing.T) {
	cases := []struct {
		name    string
		present int
		late    int
		total   int
		want    float64
	}{
		{"all present", 10, 0, 10, 100},
		{"late still attended", 8, 2, 10, 100},
		{"half absent", 4, 1, 10, 50},
		{"no records", 0, 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := attendanceRate(tc.present, tc.late, tc.total); got != tc.want {
				t.Fatalf("attendanceRate(%d, %d, %d) = %v, want %v", tc.present, tc.late, tc.total, got, tc.want)
			}
		})
	}
}
