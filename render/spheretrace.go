package render

import (
	"math"

	"github.com/soypat/neus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sphere tracing: each ray advances by its last queried SDF value until the
// magnitude drops below the convergence threshold, the ray leaves its
// [near,far] interval, or the iteration cap is reached. Converged rays
// contribute exactly one fully opaque surface sample; the rest are misses.
// All still-active rays are evaluated in one batch per iteration.

func (rn *Renderer) querySphereTrace(tr *neus.TestedRays, cfg Config) (*Buffer, map[string]float64, error) {
	nRays := tr.Len()
	t := make([]float64, nRays)
	invLen := make([]float64, nRays)
	active := make([]int, 0, nRays)
	for i := 0; i < nRays; i++ {
		t[i] = tr.Near[i]
		// Depths are multiples of D, the SDF step is a world distance.
		invLen[i] = 1 / r3.Norm(tr.D[i])
		active = append(active, i)
	}
	hit := make([]bool, nRays)
	hitSDF := make([]float64, nRays)

	pts := make([]r3.Vec, 0, nRays)
	sdf := make([]float64, nRays)
	iters := 0
	for iter := 0; iter < cfg.SphereTraceIters && len(active) > 0; iter++ {
		iters = iter + 1
		pts = pts[:0]
		for _, i := range active {
			pts = append(pts, tr.At(i, t[i]))
		}
		sdf = sdf[:len(active)]
		rn.forwardSDF(pts, sdf, false)

		next := active[:0]
		for k, i := range active {
			s := sdf[k]
			if math.Abs(s) < cfg.SphereTraceEps {
				hit[i] = true
				hitSDF[i] = s
				continue
			}
			t[i] += s * invLen[i]
			if t[i] > tr.Far[i] || t[i] < tr.Near[i] {
				continue // left the tested interval without converging.
			}
			next = append(next, i)
		}
		active = next
	}

	numHit := 0
	for i := range hit {
		if hit[i] {
			numHit++
		}
	}
	if numHit == 0 {
		return &Buffer{Kind: KindEmpty}, map[string]float64{"iters": float64(iters)}, nil
	}
	buf := &Buffer{
		Kind:      KindBatched,
		NumPerRay: 1,
		T:         make([]float64, 0, numHit),
		SDF:       make([]float64, numHit),
		Alpha:     make([]float64, 0, numHit),
	}
	shadePts := make([]r3.Vec, 0, numHit)
	rayOf := make([]int, 0, numHit)
	for i := 0; i < nRays; i++ {
		if !hit[i] {
			continue
		}
		buf.RaysIndsHit = append(buf.RaysIndsHit, tr.Inds[i])
		buf.T = append(buf.T, t[i])
		buf.Alpha = append(buf.Alpha, 1)
		shadePts = append(shadePts, tr.At(i, t[i]))
		rayOf = append(rayOf, i)
	}
	if err := rn.shade(buf, tr, rayOf, shadePts, cfg); err != nil {
		return nil, nil, err
	}
	details := map[string]float64{
		"iters":        float64(iters),
		"num_rays_hit": float64(numHit),
	}
	return buf, details, nil
}
