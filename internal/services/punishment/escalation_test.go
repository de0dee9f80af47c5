package punishment

import (
	"testing"
	"time"
)

func TestMultiplicativeEscalation(t *testing.T) {
	policy := MultiplicativeEscalation(2, 30*24*time.Hour)

	cases := []struct {
		prior time.Duration
		want  time.Duration
	}{
		{prior: 24 * time.Hour, want: 48 * time.Hour},
		{prior: 48 * time.Hour, want: 96 * time.Hour},
		{prior: 20 * 24 * time.Hour, want: 30 * 24 * time.Hour},
		{prior: 90 * time.Minute, want: 3 * time.Hour},
	}
	for _, tc := range cases {
		if got := policy(tc.prior); got != tc.want {
			t.Fatalf("policy(%s) = %s, want %s", tc.prior, got, tc.want)
		}
	}
}

func TestMultiplicativeEscalationClampsFactor(t *testing.T) {
	policy := MultiplicativeEscalation(0.5, 0)
	if got := policy(time.Hour); got != time.Hour {
		t.Fatalf("factor below one must not shrink bans, got %s", got)
	}
}
