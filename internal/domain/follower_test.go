package domain

import "testing"

func TestLeverageMultiplier(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 1},
		{"1x", 1},
		{"2x", 2},
		{"3X", 3},
		{"10x", 10},
		{"2", 2},
		{" 4x ", 4},
		{"abc", 1},
		{"0x", 1},
		{"-2x", 1},
	}
	for _, c := range cases {
		if got := LeverageMultiplier(c.in); got != c.want {
			t.Errorf("LeverageMultiplier(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPercentOfBalance(t *testing.T) {
	order := MasterOrder{Stake: 200, MasterBalance: 500}
	if got := order.PercentOfBalance(); got != 40 {
		t.Fatalf("PercentOfBalance = %v, want 40", got)
	}

	unknown := MasterOrder{Stake: 200, MasterBalance: 0}
	if got := unknown.PercentOfBalance(); got != 0 {
		t.Fatalf("PercentOfBalance with zero balance = %v, want 0", got)
	}
}

func TestAccumulatedLoss(t *testing.T) {
	s := FollowerSession{Profit: -42.5}
	if got := s.AccumulatedLoss(); got != 42.5 {
		t.Fatalf("AccumulatedLoss = %v, want 42.5", got)
	}
	s.Profit = 10
	if got := s.AccumulatedLoss(); got != 0 {
		t.Fatalf("AccumulatedLoss in profit = %v, want 0", got)
	}
}
