package order

import (
	"reflect"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func TestAppend(t *testing.T) {
	if got := Append(nil); got != Step {
		t.Fatalf("expected %v for empty list, got %v", Step, got)
	}
	if got := Append(ptr(250)); got != 350 {
		t.Fatalf("expected 350, got %v", got)
	}
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name       string
		prev, next *float64
		want       float64
	}{
		{name: "empty", want: Step},
		{name: "head", next: ptr(100), want: 0},
		{name: "tail", prev: ptr(200), want: 300},
		{name: "middle", prev: ptr(100), next: ptr(200), want: 150},
		{name: "fractional", prev: ptr(100), next: ptr(101), want: 100.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Between(tt.prev, tt.next); got != tt.want {
				t.Fatalf("Between = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeedTruncates(t *testing.T) {
	if got := Seed(100, 201); got != 150 {
		t.Fatalf("expected 150, got %v", got)
	}
	if got := Seed(-201, -100); got != -150 {
		t.Fatalf("expected truncation toward zero, got %v", got)
	}
}

func TestInsertScenario(t *testing.T) {
	key, renumbered := Insert([]float64{100, 200}, 1)
	if key != 150 {
		t.Fatalf("expected 150, got %v", key)
	}
	if renumbered != nil {
		t.Fatalf("expected no renumbering, got %v", renumbered)
	}
}

func TestInsertRenumbersExhaustedGap(t *testing.T) {
	lo, hi := 100.0, 200.0
	for i := 0; i < 200 && !Exhausted(&lo, &hi); i++ {
		hi = Between(&lo, &hi)
	}
	if !Exhausted(&lo, &hi) {
		t.Fatalf("expected gap to exhaust after repeated midpoints")
	}

	key, renumbered := Insert([]float64{50, lo, hi}, 2)
	if !reflect.DeepEqual(renumbered, []float64{100, 200, 300}) {
		t.Fatalf("unexpected renumbering: %v", renumbered)
	}
	if key != 250 {
		t.Fatalf("expected seeded key 250, got %v", key)
	}
}

func TestInsertClampsIndex(t *testing.T) {
	if key, _ := Insert([]float64{100}, 7); key != 200 {
		t.Fatalf("expected append key 200, got %v", key)
	}
	if key, _ := Insert([]float64{100}, -3); key != 0 {
		t.Fatalf("expected head key 0, got %v", key)
	}
}
