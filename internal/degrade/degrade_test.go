package degrade

import (
	"context"
	"testing"
	"time"

	"github.com/moodsync/platform/internal/mood"
)

// seqRand returns queued values in order.
type seqRand struct{ vals []int }

func (s *seqRand) IntN(n int) int {
	v := s.vals[0]
	s.vals = s.vals[1:]
	return v % n
}

func TestDegradeUsesRand(t *testing.T) {
	c := New(0, WithRand(&seqRand{vals: []int{4, 20}}))
	got := c.Degrade(context.Background())
	want := mood.Signal{Label: "Happy", ConfidencePercent: 95}
	if got != want {
		t.Errorf("Degrade() = %+v, want %+v", got, want)
	}
}

func TestDegradeRange(t *testing.T) {
	c := New(0)
	for i := 0; i < 300; i++ {
		sig := c.Degrade(context.Background())
		if _, ok := mood.Lookup(sig.Label); !ok {
			t.Fatalf("label %q not canonical", sig.Label)
		}
		if sig.ConfidencePercent < MinConfidence || sig.ConfidencePercent > MaxConfidence {
			t.Fatalf("confidence %d out of [%d,%d]", sig.ConfidencePercent, MinConfidence, MaxConfidence)
		}
	}
}

func TestDegradeWaitsDelay(t *testing.T) {
	c := New(50 * time.Millisecond)
	start := time.Now()
	c.Degrade(context.Background())
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Degrade returned after %v, want >= 50ms", elapsed)
	}
}

func TestDegradeCancelled(t *testing.T) {
	c := New(10 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sig := c.Degrade(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled Degrade took %v", elapsed)
	}
	if !sig.Valid() {
		t.Errorf("cancelled Degrade returned invalid signal %+v", sig)
	}
}

func TestDegradeCoversEveryLabel(t *testing.T) {
	canon := mood.Canonical()
	for i, want := range canon {
		c := New(0, WithRand(&seqRand{vals: []int{i, 0}}))
		if got := c.Degrade(context.Background()); got.Label != string(want) || got.ConfidencePercent != MinConfidence {
			t.Errorf("Degrade() with index %d = %+v, want %s/%d", i, got, want, MinConfidence)
		}
	}
}
