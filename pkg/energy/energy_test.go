package energy

import (
	"math"
	"testing"
	"time"
)

func TestIntervalEnergyConcrete(t *testing.T) {
	// 150 W over 5 s is 150 * 5/3600 = 0.208333... Wh.
	got := IntervalEnergyWh(150.0, 5*time.Second)
	if math.Abs(got-0.20833) > 1e-12 {
		t.Fatalf("IntervalEnergyWh(150, 5s) = %v, want 0.20833", got)
	}
}

func TestIntervalEnergyMonotonicInPower(t *testing.T) {
	prev := IntervalEnergyWh(10, 5*time.Second)
	for w := 20.0; w <= 5000; w += 10 {
		cur := IntervalEnergyWh(w, 5*time.Second)
		if cur <= prev {
			t.Fatalf("energy not increasing: %v W gave %v after %v", w, cur, prev)
		}
		prev = cur
	}
}

func TestIntervalEnergyMonotonicInInterval(t *testing.T) {
	prev := IntervalEnergyWh(150, time.Second)
	for s := 2; s <= 120; s++ {
		cur := IntervalEnergyWh(150, time.Duration(s)*time.Second)
		if cur <= prev {
			t.Fatalf("energy not increasing at %ds: %v after %v", s, cur, prev)
		}
		prev = cur
	}
}

func TestRoundPlaces(t *testing.T) {
	cases := []struct {
		v      float64
		places int
		want   float64
	}{
		{1.23456, 3, 1.235},
		{-1.23456, 3, -1.235},
		{0.2083333, 5, 0.20833},
		{2.5, 0, 3},
	}
	for _, c := range cases {
		if got := RoundPlaces(c.v, c.places); got != c.want {
			t.Errorf("RoundPlaces(%v, %d) = %v, want %v", c.v, c.places, got, c.want)
		}
	}
}
