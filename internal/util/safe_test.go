package util

import "testing"

func TestSafeInt64Diff(t *testing.T) {
	cases := []struct {
		u1, u2 uint64
		want   int64
	}{
		{10, 3, 7},
		{3, 10, 0},
		{5, 5, 0},
	}
	for _, c := range cases {
		if got := SafeInt64Diff(c.u1, c.u2); got != c.want {
			t.Errorf("SafeInt64Diff(%d, %d) = %d, want %d", c.u1, c.u2, got, c.want)
		}
	}
}
