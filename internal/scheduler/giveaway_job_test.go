package scheduler

import "testing"

func TestMentions(t *testing.T) {
	cases := []struct {
		name     string
		userIDs  []int64
		expected string
	}{
		{"空集合", nil, ""},
		{"单人", []int64{100}, "<@100>"},
		{"多人", []int64{100, 200, 300}, "<@100> <@200> <@300>"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Mentions(tc.userIDs); got != tc.expected {
				t.Errorf("期望 %q, 实际 %q", tc.expected, got)
			}
		})
	}
}
