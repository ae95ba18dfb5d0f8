package transcript

import "testing"

func TestCollapseEcho(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"repeated lines", "A\nB\nA\nB", "A\nB"},
		{"exact halves", "USER: hi\nCHAR: yo\nUSER: hi\nCHAR: yo\n", "USER: hi\nCHAR: yo\n"},
		{"halves then lines", "X\nX\nX\nX\n", "X"},
		{"distinct enough", "A\nB\nC\nA", "A\nB\nC\nA"},
		{"blank lines ignored", "A\n\n  \nB\nA\nB\nA", "A\nB"},
		{"whitespace halves untouched", "    ", "    "},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := collapseEcho(tc.in); got != tc.want {
				t.Fatalf("collapseEcho(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
