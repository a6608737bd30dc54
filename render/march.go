package render

import (
	"math"

	"github.com/soypat/neus"
	"github.com/soypat/neus/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Occupancy guided marching. The acceleration structure restricts sampling
// to occupied segments only, so per-ray sample counts vary and the result is
// a packed buffer. The upsampling rounds are shared with the coarse
// strategy. The compressed variant merges near-duplicate depths before the
// (expensive) full evaluation.

func (rn *Renderer) queryMarchOccMultiUpsample(tr *neus.TestedRays, cfg Config, fwdInvS float64, compressed bool) (*Buffer, map[string]float64, error) {
	if rn.accel == nil {
		return nil, nil, ErrNoAccel
	}
	step := cfg.MarchStep
	if step <= 0 {
		step = d3.Max(r3.Sub(rn.space.Bounds().Max, rn.space.Bounds().Min)) / 256
	}
	segs := rn.accel.Segments(tr)

	nRays := tr.Len()
	depths := make([][]float64, nRays)
	sdfs := make([][]float64, nRays)
	for i := 0; i < nRays; i++ {
		depths[i] = rn.marchDepths(segs[i], tr.Near[i], tr.Far[i], step, cfg.Perturb)
	}
	rn.evalBoundaries(tr, depths, sdfs)

	for round := 0; round < cfg.UpsampleRounds; round++ {
		upInvS := cfg.UpsampleInvS * float64(int(1)<<round) / rn.upsampleSDivisor
		rn.upsampleRound(tr, depths, sdfs, upInvS, cfg.NumUpsample, cfg.Perturb)
	}

	if compressed {
		tol := cfg.CompressTol * step
		for i := 0; i < nRays; i++ {
			depths[i], sdfs[i] = compressDepths(depths[i], sdfs[i], tol)
		}
	}

	// Assemble the packed buffer over rays with at least one interval.
	totalSamples := 0
	for i := 0; i < nRays; i++ {
		if n := len(depths[i]) - 1; n > 0 {
			totalSamples += n
		}
	}
	buf := &Buffer{
		Kind:  KindPacked,
		T:     make([]float64, 0, totalSamples),
		SDF:   make([]float64, totalSamples),
		Alpha: make([]float64, 0, totalSamples),
	}
	pts := make([]r3.Vec, 0, totalSamples)
	rayOf := make([]int, 0, totalSamples)
	for i := 0; i < nRays; i++ {
		t, s := depths[i], sdfs[i]
		n := len(t) - 1
		if n <= 0 {
			continue
		}
		off := len(buf.T)
		buf.PackInfos = append(buf.PackInfos, PackInfo{Offset: off, Count: n})
		buf.RaysIndsHit = append(buf.RaysIndsHit, tr.Inds[i])
		alpha := make([]float64, n)
		alphaFromBoundaries(t, s, fwdInvS, alpha)
		buf.Alpha = append(buf.Alpha, alpha...)
		for j := 0; j < n; j++ {
			mid := 0.5 * (t[j] + t[j+1])
			buf.T = append(buf.T, mid)
			pts = append(pts, tr.At(i, mid))
			rayOf = append(rayOf, i)
		}
	}
	if len(buf.RaysIndsHit) == 0 {
		return &Buffer{Kind: KindEmpty}, map[string]float64{"num_samples": 0}, nil
	}
	if err := rn.shade(buf, tr, rayOf, pts, cfg); err != nil {
		return nil, nil, err
	}
	details := map[string]float64{
		"num_samples":  float64(buf.NumSamples()),
		"num_rays_hit": float64(len(buf.RaysIndsHit)),
		"march_step":   step,
	}
	return buf, details, nil
}

// marchDepths generates sorted boundary depths across a ray's occupied
// segments, stepping at the given world-space stride. Segments are clipped
// against [near,far]; a clipped-away or empty segment set yields no depths.
func (rn *Renderer) marchDepths(segs []neus.Segment, near, far, step float64, perturb bool) []float64 {
	var t []float64
	for _, seg := range segs {
		t0 := math.Max(seg.T0, near)
		t1 := math.Min(seg.T1, far)
		if t1-t0 <= 0 {
			continue
		}
		n := int(math.Ceil((t1-t0)/step)) + 1
		if n < 2 {
			n = 2
		}
		spacing := (t1 - t0) / float64(n-1)
		for j := 0; j < n; j++ {
			tj := t0 + spacing*float64(j)
			if perturb && j > 0 && j < n-1 {
				tj += (rn.rng.Float64() - 0.5) * spacing
			}
			t = append(t, tj)
		}
	}
	return t
}

// compressDepths drops depths closer than tol to their predecessor,
// shrinking the packed buffer before full evaluation. The first and last
// boundary always survive.
func compressDepths(t, s []float64, tol float64) (tc, sc []float64) {
	if len(t) < 3 {
		return t, s
	}
	tc = t[:1]
	sc = s[:1]
	for i := 1; i < len(t); i++ {
		if t[i]-tc[len(tc)-1] < tol && i != len(t)-1 {
			continue
		}
		tc = append(tc, t[i])
		sc = append(sc, s[i])
	}
	return tc, sc
}
