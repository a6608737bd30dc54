// Package accel provides the occupancy grid acceleration structure used to
// restrict ray marching to space that plausibly contains surface. Occupancy
// statistics are approximate by design: many concurrent writers accumulate
// into shared float32 counters under sharded locks, and periodic maintenance
// decays and refreshes them from the live field.
package accel

import (
	"math"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	"github.com/soypat/neus"
	"github.com/soypat/neus/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

const numShards = 64 // must be a power of two.

type shardLocks struct{ mu [numShards]sync.Mutex }

func (sl *shardLocks) lock(idx int)   { sl.mu[idx&(numShards-1)].Lock() }
func (sl *shardLocks) unlock(idx int) { sl.mu[idx&(numShards-1)].Unlock() }

// GridConfig configures an occupancy Grid.
type GridConfig struct {
	// Res is the cell count per axis. Zero means 64.
	Res int
	// OccThreshold is the occupancy value above which a cell is considered
	// occupied. Zero means 0.01.
	OccThreshold float32
	// Decay is the multiplicative occupancy decay applied at every
	// maintenance step. Zero means 0.95.
	Decay float32
	// StepEvery is the training-iteration period of maintenance steps.
	// Zero means 16.
	StepEvery int
	// NumStepSamples is the number of random refresh evaluations per
	// maintenance step. Zero means 4096.
	NumStepSamples int
	// RefineMilestones are iterations at which the marching granularity
	// level decreases by one (the renderer derives its upsample sharpness
	// divisor from the level).
	RefineMilestones []int
	Seed             int64
}

// Grid is a dense occupancy grid over a bounding box. It implements the
// renderer's acceleration contract.
type Grid struct {
	cfg GridConfig
	bb  d3.Box
	res int
	occ []float32
	// gran is the current granularity level. It starts at the number of
	// refine milestones and steps down to zero as they pass.
	gran  int
	rng   *rand.Rand
	locks shardLocks
}

// NewGrid returns a grid spanning bounds. All cells start unoccupied; call
// Init (or let the renderer's TrainingInitialize do it) before marching.
func NewGrid(bounds r3.Box, cfg GridConfig) *Grid {
	if cfg.Res <= 0 {
		cfg.Res = 64
	}
	if cfg.OccThreshold <= 0 {
		cfg.OccThreshold = 0.01
	}
	if cfg.Decay <= 0 {
		cfg.Decay = 0.95
	}
	if cfg.StepEvery <= 0 {
		cfg.StepEvery = 16
	}
	if cfg.NumStepSamples <= 0 {
		cfg.NumStepSamples = 4096
	}
	g := &Grid{
		cfg:  cfg,
		bb:   d3.Box(bounds),
		res:  cfg.Res,
		occ:  make([]float32, cfg.Res*cfg.Res*cfg.Res),
		gran: len(cfg.RefineMilestones),
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
	return g
}

// Bounds returns the grid's current bounding box.
func (g *Grid) Bounds() r3.Box { return r3.Box(g.bb) }

func (g *Grid) cellSize() r3.Vec {
	return r3.Scale(1/float64(g.res), g.bb.Size())
}

// cellIndex returns the flat index of the cell containing p, or -1 when p is
// outside the grid.
func (g *Grid) cellIndex(p r3.Vec) int {
	return cellIndexIn(g.bb, g.res, p)
}

func cellIndexIn(bb d3.Box, res int, p r3.Vec) int {
	cs := r3.Scale(1/float64(res), bb.Size())
	rel := d3.DivElem(r3.Sub(p, bb.Min), cs)
	i, j, k := int(rel.X), int(rel.Y), int(rel.Z)
	if i < 0 || j < 0 || k < 0 || i >= res || j >= res || k >= res {
		return -1
	}
	return (i*res+j)*res + k
}

// cellCenter returns the world center of cell (i,j,k).
func (g *Grid) cellCenter(i, j, k int) r3.Vec {
	cs := g.cellSize()
	return r3.Add(g.bb.Min, d3.MulElem(cs, r3.Vec{
		X: float64(i) + 0.5, Y: float64(j) + 0.5, Z: float64(k) + 0.5,
	}))
}

// occValue maps a signed distance to an occupancy contribution: near 1 when
// the surface can pass through the cell, decaying with distance measured in
// cell diagonals.
func (g *Grid) occValue(sdf float64) float32 {
	cs := g.cellSize()
	diag := math.Sqrt(cs.X*cs.X + cs.Y*cs.Y + cs.Z*cs.Z)
	return math32.Exp(-float32(math.Abs(sdf) / diag))
}

// CollectSamples accumulates occupancy evidence from raw SDF evaluations.
// Accumulation is max-merge under sharded locks: concurrent writers may
// interleave freely since the statistics are approximate anyway.
func (g *Grid) CollectSamples(pts []r3.Vec, sdf []float64) {
	for n, p := range pts {
		idx := g.cellIndex(p)
		if idx < 0 {
			continue
		}
		v := g.occValue(sdf[n])
		g.locks.lock(idx)
		g.occ[idx] = math32.Max(g.occ[idx], v)
		g.locks.unlock(idx)
	}
}

// Init seeds every cell's occupancy by evaluating the field at cell centers.
func (g *Grid) Init(sdfFn func(pts []r3.Vec, dst []float64)) {
	const batch = 8192
	pts := make([]r3.Vec, 0, batch)
	idxs := make([]int, 0, batch)
	flush := func() {
		if len(pts) == 0 {
			return
		}
		dst := make([]float64, len(pts))
		sdfFn(pts, dst)
		for n, idx := range idxs {
			g.occ[idx] = g.occValue(dst[n])
		}
		pts = pts[:0]
		idxs = idxs[:0]
	}
	for i := 0; i < g.res; i++ {
		for j := 0; j < g.res; j++ {
			for k := 0; k < g.res; k++ {
				pts = append(pts, g.cellCenter(i, j, k))
				idxs = append(idxs, (i*g.res+j)*g.res+k)
				if len(pts) == batch {
					flush()
				}
			}
		}
	}
	flush()
}

// Step runs periodic maintenance: every StepEvery iterations the occupancy
// decays and a random subset of cells is refreshed from the field. Refine
// milestones lower the granularity level.
func (g *Grid) Step(it int, sdfFn func(pts []r3.Vec, dst []float64)) {
	for _, m := range g.cfg.RefineMilestones {
		if it == m && g.gran > 0 {
			g.gran--
		}
	}
	if it%g.cfg.StepEvery != 0 {
		return
	}
	for i := range g.occ {
		g.occ[i] *= g.cfg.Decay
	}
	n := g.cfg.NumStepSamples
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = g.bb.Random(g.rng)
	}
	dst := make([]float64, n)
	sdfFn(pts, dst)
	g.CollectSamples(pts, dst)
}

// Segments walks each tested ray through the grid and returns the depth
// intervals covering occupied cells, adjacent intervals merged. Traversal
// steps at half a cell size, which overshoots slightly but never skips an
// occupied cell.
func (g *Grid) Segments(tr *neus.TestedRays) [][]neus.Segment {
	out := make([][]neus.Segment, tr.Len())
	cs := g.cellSize()
	for i := 0; i < tr.Len(); i++ {
		dirLen := r3.Norm(tr.D[i])
		if dirLen == 0 {
			continue
		}
		// Depths are multiples of D; convert the world stride.
		dt := 0.5 * d3.Min(cs) / dirLen
		var segs []neus.Segment
		open := false
		var t0 float64
		for t := tr.Near[i]; t <= tr.Far[i]; t += dt {
			occ := g.occupiedAt(tr.At(i, t))
			switch {
			case occ && !open:
				t0 = t
				open = true
			case !occ && open:
				segs = append(segs, neus.Segment{T0: t0, T1: t})
				open = false
			}
		}
		if open {
			segs = append(segs, neus.Segment{T0: t0, T1: tr.Far[i]})
		}
		out[i] = segs
	}
	return out
}

func (g *Grid) occupiedAt(p r3.Vec) bool {
	idx := g.cellIndex(p)
	return idx >= 0 && g.occ[idx] > g.cfg.OccThreshold
}

// SamplePtsInOccupied returns n points uniformly distributed over occupied
// cells. With no occupied cells it falls back to the whole volume.
func (g *Grid) SamplePtsInOccupied(n int) []r3.Vec {
	occupied := make([]int, 0, 1024)
	for idx, v := range g.occ {
		if v > g.cfg.OccThreshold {
			occupied = append(occupied, idx)
		}
	}
	pts := make([]r3.Vec, n)
	if len(occupied) == 0 {
		for i := range pts {
			pts[i] = g.bb.Random(g.rng)
		}
		return pts
	}
	cs := g.cellSize()
	for i := range pts {
		idx := occupied[g.rng.Intn(len(occupied))]
		ci := idx / (g.res * g.res)
		cj := (idx / g.res) % g.res
		ck := idx % g.res
		corner := r3.Add(g.bb.Min, d3.MulElem(cs, r3.Vec{X: float64(ci), Y: float64(cj), Z: float64(ck)}))
		pts[i] = r3.Add(corner, d3.MulElem(cs, r3.Vec{X: g.rng.Float64(), Y: g.rng.Float64(), Z: g.rng.Float64()}))
	}
	return pts
}

// TryShrink returns the tight bounding box of occupied cells enlarged by one
// cell of margin. With no occupied cells the current bounds are returned
// unchanged.
func (g *Grid) TryShrink() r3.Box {
	var (
		found bool
		tight d3.Box
	)
	for i := 0; i < g.res; i++ {
		for j := 0; j < g.res; j++ {
			for k := 0; k < g.res; k++ {
				if g.occ[(i*g.res+j)*g.res+k] <= g.cfg.OccThreshold {
					continue
				}
				c := g.cellCenter(i, j, k)
				if !found {
					tight = d3.Box{Min: c, Max: c}
					found = true
				} else {
					tight = tight.Include(c)
				}
			}
		}
	}
	if !found {
		return r3.Box(g.bb)
	}
	cs := g.cellSize()
	tight.Min = d3.MaxElem(r3.Sub(tight.Min, r3.Scale(1.5, cs)), g.bb.Min)
	tight.Max = d3.MinElem(r3.Add(tight.Max, r3.Scale(1.5, cs)), g.bb.Max)
	return r3.Box(tight)
}

// RescaleVolume rebases the grid onto new bounds, resampling the old
// occupancy at the new cell centers.
func (g *Grid) RescaleVolume(bounds r3.Box) {
	oldBB, oldOcc := g.bb, g.occ
	g.bb = d3.Box(bounds)
	g.occ = make([]float32, g.res*g.res*g.res)
	for i := 0; i < g.res; i++ {
		for j := 0; j < g.res; j++ {
			for k := 0; k < g.res; k++ {
				idx := cellIndexIn(oldBB, g.res, g.cellCenter(i, j, k))
				if idx >= 0 {
					g.occ[(i*g.res+j)*g.res+k] = oldOcc[idx]
				}
			}
		}
	}
}

// Granularity returns the current granularity level.
func (g *Grid) Granularity() float64 { return float64(g.gran) }

// DebugStats reports approximate internals for diagnostics.
func (g *Grid) DebugStats() map[string]float64 {
	numOcc := 0
	var sum float32
	for _, v := range g.occ {
		if v > g.cfg.OccThreshold {
			numOcc++
		}
		sum += v
	}
	total := len(g.occ)
	return map[string]float64{
		"num_occupied":  float64(numOcc),
		"frac_occupied": float64(numOcc) / float64(total),
		"mean_occ":      float64(sum) / float64(total),
		"granularity":   float64(g.gran),
	}
}
