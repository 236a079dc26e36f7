package reward

import (
	"testing"

	"workchain/internal/config"
)

func TestComputeDeterministic(t *testing.T) {
	c := New(config.Default())
	b := c.Compute(1.2, 1.0, 1.1)
	if b.FinalPoints != 132 {
		t.Fatalf("final points = %d, want 132", b.FinalPoints)
	}
	for i := 0; i < 10; i++ {
		if again := c.Compute(1.2, 1.0, 1.1); again != b {
			t.Fatalf("compute is not deterministic: %+v vs %+v", again, b)
		}
	}
	if b.BasePoints != 100 || b.DifficultyMultiplier != 1.2 || b.QualityMultiplier != 1.0 || b.TimelinessBonus != 1.1 {
		t.Fatalf("breakdown factors wrong: %+v", b)
	}
}

func TestComputeWithoutBonus(t *testing.T) {
	c := New(config.Default())
	if b := c.Compute(1.2, 1.0, 1.0); b.FinalPoints != 120 {
		t.Fatalf("final points = %d, want 120", b.FinalPoints)
	}
	if b := c.Compute(1.5, 2.0, 1.0); b.FinalPoints != 300 {
		t.Fatalf("final points = %d, want 300", b.FinalPoints)
	}
}

func TestComputeRounds(t *testing.T) {
	c := New(config.Default())
	// 100 * 1.8 * 0.7 * 1.1 = 138.6 -> 139
	if b := c.Compute(1.8, 0.7, 1.1); b.FinalPoints != 139 {
		t.Fatalf("final points = %d, want 139", b.FinalPoints)
	}
}

func TestTimelinessBonus(t *testing.T) {
	c := New(config.Default())
	submitted := "2025-01-01T00:00:00Z"
	cases := []struct {
		name     string
		deadline *string
		want     float64
	}{
		{"no deadline", nil, 1.0},
		{"far deadline", strptr("2025-01-10T00:00:00Z"), 1.1},
		{"exactly 24h", strptr("2025-01-02T00:00:00Z"), 1.0},
		{"just over 24h", strptr("2025-01-02T00:00:01Z"), 1.1},
		{"past deadline", strptr("2024-12-30T00:00:00Z"), 1.0},
		{"unparseable", strptr("soon"), 1.0},
	}
	for _, tc := range cases {
		if got := c.TimelinessBonus(tc.deadline, submitted); got != tc.want {
			t.Fatalf("%s: bonus = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestConsolation(t *testing.T) {
	c := New(config.Default())
	b := c.Consolation()
	if b.FinalPoints != 10 {
		t.Fatalf("consolation = %d, want 10", b.FinalPoints)
	}
	if b.BasePoints != 0 || b.DifficultyMultiplier != 0 || b.QualityMultiplier != 0 || b.TimelinessBonus != 0 {
		t.Fatalf("consolation multipliers must be zeroed: %+v", b)
	}
	if b.Reason != "consolation" {
		t.Fatalf("reason = %q", b.Reason)
	}
}

func strptr(s string) *string { return &s }
