package dataset

import "testing"

func TestNormalizeColumnNames(t *testing.T) {
	got := NormalizeColumnNames([]string{" First  Name ", "Salary ($)", "", "2024 revenue", "age", "Age", "AGE", "naïve"})
	want := []string{"First_Name", "Salary_", "column_3", "_2024_revenue", "age", "Age_2", "AGE_3", "nave"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeColumnNames() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NormalizeColumnNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		cells []string
		want  SemanticType
	}{
		{cells: []string{"1", "2", ""}, want: TypeInteger},
		{cells: []string{"1", "2.5"}, want: TypeFloat},
		{cells: []string{"true", "No"}, want: TypeBoolean},
		{cells: []string{"2024-01-01", "2024-01-02 10:00:00"}, want: TypeDatetime},
		{cells: []string{"1", "abc"}, want: TypeText},
		{cells: []string{"nan", "inf"}, want: TypeText},
		{cells: []string{"", " "}, want: TypeText},
	}
	for _, tc := range cases {
		if got := InferType(tc.cells); got != tc.want {
			t.Fatalf("InferType(%q) = %q, want %q", tc.cells, got, tc.want)
		}
	}
}
