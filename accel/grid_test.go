package accel

import (
	"math"
	"sync"
	"testing"

	"github.com/soypat/neus"
	"gonum.org/v1/gonum/spatial/r3"
)

// slab |x-5|-1 inside a 10x2x2 box: surface at x=4 and x=6.
func slabSDF(pts []r3.Vec, dst []float64) {
	for i, p := range pts {
		dst[i] = math.Abs(p.X-5) - 1
	}
}

func slabBounds() r3.Box {
	return r3.Box{
		Min: r3.Vec{X: 0, Y: -1, Z: -1},
		Max: r3.Vec{X: 10, Y: 1, Z: 1},
	}
}

func newSlabGrid(t *testing.T) *Grid {
	t.Helper()
	g := NewGrid(slabBounds(), GridConfig{Res: 32, Seed: 1})
	g.Init(slabSDF)
	return g
}

func TestGridInitOccupiesSlab(t *testing.T) {
	g := newSlabGrid(t)
	stats := g.DebugStats()
	if stats["num_occupied"] == 0 {
		t.Fatal("no occupied cells after init")
	}
	if stats["frac_occupied"] >= 1 {
		t.Fatal("every cell occupied, threshold has no effect")
	}
	// Cells far from the slab must stay unoccupied: at x=0.15 the distance
	// is 3.85, many cell diagonals away.
	if g.occupiedAt(r3.Vec{X: 0.15, Y: 0, Z: 0}) {
		t.Error("cell far from surface reported occupied")
	}
	if !g.occupiedAt(r3.Vec{X: 4, Y: 0, Z: 0}) {
		t.Error("cell on surface reported unoccupied")
	}
}

func TestGridCollectSamples(t *testing.T) {
	g := NewGrid(slabBounds(), GridConfig{Res: 32, Seed: 1})
	p := r3.Vec{X: 4, Y: 0, Z: 0}
	if g.occupiedAt(p) {
		t.Fatal("fresh grid should be empty")
	}
	g.CollectSamples([]r3.Vec{p, {X: 99}}, []float64{0, 0}) // out-of-bounds point ignored.
	if !g.occupiedAt(p) {
		t.Error("zero-distance sample did not mark its cell")
	}
	// Max-merge: a far sample must not lower an existing value.
	before := g.occ[g.cellIndex(p)]
	g.CollectSamples([]r3.Vec{p}, []float64{5})
	if g.occ[g.cellIndex(p)] != before {
		t.Error("weaker evidence overwrote stronger occupancy")
	}
}

func TestGridCollectSamplesConcurrent(t *testing.T) {
	g := NewGrid(slabBounds(), GridConfig{Res: 32, Seed: 1})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			pts := make([]r3.Vec, 256)
			sdf := make([]float64, 256)
			for i := range pts {
				pts[i] = r3.Vec{X: 4 + float64(w)*0.25, Y: -0.9 + float64(i)*0.007, Z: 0}
			}
			slabSDF(pts, sdf)
			for rep := 0; rep < 50; rep++ {
				g.CollectSamples(pts, sdf)
			}
		}(w)
	}
	wg.Wait()
	if g.DebugStats()["num_occupied"] == 0 {
		t.Error("concurrent collection marked nothing")
	}
}

func TestGridSegmentsCoverSurface(t *testing.T) {
	g := newSlabGrid(t)
	tr := &neus.TestedRays{
		Inds:     []int{0, 1},
		O:        []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 0, Y: 0.5, Z: 0.5}},
		D:        []r3.Vec{{X: 1}, {X: 1}},
		Near:     []float64{0, 0},
		Far:      []float64{10, 10},
		NumTotal: 2,
	}
	segs := g.Segments(tr)
	if len(segs) != 2 {
		t.Fatalf("got %d segment lists", len(segs))
	}
	for i, rs := range segs {
		if len(rs) == 0 {
			t.Fatalf("ray %d: no segments over an occupied slab", i)
		}
		covered := func(x float64) bool {
			for _, s := range rs {
				if s.T0 <= x && x <= s.T1 {
					return true
				}
			}
			return false
		}
		// Both surface crossings must be inside some segment, and space far
		// from the slab must not be.
		if !covered(4) || !covered(6) {
			t.Errorf("ray %d: segments %v do not cover the surface crossings", i, rs)
		}
		if covered(0.5) || covered(9.5) {
			t.Errorf("ray %d: segments %v cover empty space far from the slab", i, rs)
		}
		for _, s := range rs {
			if s.T1 <= s.T0 {
				t.Errorf("ray %d: degenerate segment %v", i, s)
			}
		}
	}
}

func TestGridSamplePtsInOccupied(t *testing.T) {
	g := newSlabGrid(t)
	pts := g.SamplePtsInOccupied(500)
	if len(pts) != 500 {
		t.Fatalf("got %d points", len(pts))
	}
	for _, p := range pts {
		if !g.occupiedAt(p) {
			t.Fatalf("sample %v landed in an unoccupied cell", p)
		}
	}
	// An empty grid falls back to the whole volume.
	empty := NewGrid(slabBounds(), GridConfig{Res: 8, Seed: 1})
	pts = empty.SamplePtsInOccupied(100)
	bb := slabBounds()
	for _, p := range pts {
		if p.X < bb.Min.X || p.X > bb.Max.X || p.Y < bb.Min.Y || p.Y > bb.Max.Y {
			t.Fatalf("fallback sample %v escaped bounds", p)
		}
	}
}

func TestGridTryShrink(t *testing.T) {
	g := newSlabGrid(t)
	tight := g.TryShrink()
	bb := slabBounds()
	if tight.Min.X <= bb.Min.X+1 || tight.Max.X >= bb.Max.X-1 {
		t.Errorf("shrink did not tighten X: %v", tight)
	}
	// The occupied band around the slab must survive the shrink.
	if tight.Min.X > 3.5 || tight.Max.X < 6.5 {
		t.Errorf("shrink cut into the occupied band: %v", tight)
	}
	// Y and Z are fully occupied near the surface, so shrink stays clamped
	// to the original bounds there.
	if tight.Min.Y > bb.Min.Y+0.5 {
		t.Errorf("shrink over-tightened Y: %v", tight)
	}
	// Empty grid: bounds unchanged.
	empty := NewGrid(slabBounds(), GridConfig{Res: 8, Seed: 1})
	if got := empty.TryShrink(); got != bb {
		t.Errorf("empty grid shrink returned %v", got)
	}
}

func TestGridRescaleVolumeKeepsOccupancy(t *testing.T) {
	g := newSlabGrid(t)
	g.RescaleVolume(r3.Box{
		Min: r3.Vec{X: 2, Y: -1, Z: -1},
		Max: r3.Vec{X: 9, Y: 1, Z: 1},
	})
	if !g.occupiedAt(r3.Vec{X: 4, Y: 0, Z: 0}) || !g.occupiedAt(r3.Vec{X: 6, Y: 0, Z: 0}) {
		t.Error("surface cells lost during rescale")
	}
	if g.occupiedAt(r3.Vec{X: 8.5, Y: 0, Z: 0}) {
		t.Error("cell far from surface occupied after rescale")
	}
}

func TestGridStepDecayAndRefine(t *testing.T) {
	g := NewGrid(slabBounds(), GridConfig{
		Res:              16,
		Decay:            0.1,
		StepEvery:        4,
		NumStepSamples:   64,
		RefineMilestones: []int{10, 20},
		Seed:             1,
	})
	if g.Granularity() != 2 {
		t.Fatalf("initial granularity = %v, want 2", g.Granularity())
	}
	// Mark a cell far from the surface, then let maintenance decay it away.
	far := r3.Vec{X: 0.3, Y: 0, Z: 0}
	g.CollectSamples([]r3.Vec{far}, []float64{0})
	for it := 1; it <= 25; it++ {
		g.Step(it, slabSDF)
	}
	if g.Granularity() != 0 {
		t.Errorf("granularity after milestones = %v, want 0", g.Granularity())
	}
	if g.occupiedAt(far) {
		t.Error("stale occupancy survived decay; refresh should not re-mark a cell 4+ units from the surface")
	}
	if g.Bounds() != slabBounds() {
		t.Error("step mutated bounds")
	}
}
