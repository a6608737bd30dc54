package render_test

import (
	"math"
	"testing"

	"github.com/soypat/neus/render"
)

func TestInvSSchedules(t *testing.T) {
	if got := render.ConstInvS(800).InvS(12345); got != 800 {
		t.Errorf("const schedule = %g", got)
	}

	lin := render.LinearInvS{Start: 64, Stop: 800, Until: 100}
	if got := lin.InvS(0); got != 64 {
		t.Errorf("linear at 0 = %g", got)
	}
	if got := lin.InvS(50); math.Abs(got-432) > 1e-12 {
		t.Errorf("linear midpoint = %g, want 432", got)
	}
	if got := lin.InvS(100); got != 800 {
		t.Errorf("linear at end = %g", got)
	}
	if got := lin.InvS(5000); got != 800 {
		t.Errorf("linear past end = %g", got)
	}
	if got := lin.InvS(-3); got != 64 {
		t.Errorf("linear before start = %g", got)
	}

	lg := render.LogInvS{Start: 10, Stop: 1000, Until: 100}
	if got := lg.InvS(0); math.Abs(got-10) > 1e-12 {
		t.Errorf("log at 0 = %g", got)
	}
	if got := lg.InvS(50); math.Abs(got-100) > 1e-9 {
		t.Errorf("log midpoint = %g, want 100", got)
	}
	if got := lg.InvS(200); got != 1000 {
		t.Errorf("log past end = %g", got)
	}
	// Monotone non-decreasing over the ramp.
	prev := lg.InvS(0)
	for it := 1; it <= 100; it++ {
		cur := lg.InvS(it)
		if cur < prev {
			t.Fatalf("log schedule decreased at %d: %g -> %g", it, prev, cur)
		}
		prev = cur
	}
}
