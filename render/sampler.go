package render

import (
	"errors"
	"sort"

	"github.com/soypat/neus"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

var errNoRadiance = errors.New("render: rgb requested but no radiance evaluator configured")

// Coarse sampling with multi-round importance upsampling. Every ray gets the
// same fixed budget (NumCoarse initial boundaries plus UpsampleRounds x
// NumUpsample refinements), so the result is a batched buffer.

func (rn *Renderer) queryCoarseMultiUpsample(tr *neus.TestedRays, cfg Config, fwdInvS float64) (*Buffer, map[string]float64, error) {
	nRays := tr.Len()
	depths := make([][]float64, nRays)
	sdfs := make([][]float64, nRays)
	for i := 0; i < nRays; i++ {
		depths[i] = rn.initDepths(tr.Near[i], tr.Far[i], cfg.NumCoarse, cfg.Perturb)
	}
	rn.evalBoundaries(tr, depths, sdfs)

	for round := 0; round < cfg.UpsampleRounds; round++ {
		upInvS := cfg.UpsampleInvS * float64(int(1)<<round) / rn.upsampleSDivisor
		rn.upsampleRound(tr, depths, sdfs, upInvS, cfg.NumUpsample, cfg.Perturb)
	}

	numPer := cfg.NumCoarse + cfg.UpsampleRounds*cfg.NumUpsample - 1
	buf := &Buffer{
		Kind:        KindBatched,
		RaysIndsHit: append([]int(nil), tr.Inds...),
		NumPerRay:   numPer,
		T:           make([]float64, nRays*numPer),
		SDF:         make([]float64, nRays*numPer),
		Alpha:       make([]float64, nRays*numPer),
	}
	pts := make([]r3.Vec, nRays*numPer)
	rayOf := make([]int, nRays*numPer)
	for i := 0; i < nRays; i++ {
		t, s := depths[i], sdfs[i]
		off := i * numPer
		alphaFromBoundaries(t, s, fwdInvS, buf.Alpha[off:off+numPer])
		for j := 0; j < numPer; j++ {
			mid := 0.5 * (t[j] + t[j+1])
			buf.T[off+j] = mid
			pts[off+j] = tr.At(i, mid)
			rayOf[off+j] = i
		}
	}
	if err := rn.shade(buf, tr, rayOf, pts, cfg); err != nil {
		return nil, nil, err
	}
	details := map[string]float64{
		"num_per_ray":     float64(numPer),
		"upsample_rounds": float64(cfg.UpsampleRounds),
	}
	return buf, details, nil
}

// initDepths returns n sorted boundary depths spanning [near,far], with
// interior boundaries jittered by up to half a spacing when perturbed.
// A single-depth request gets the interval midpoint, keeping the spacing
// arithmetic away from a zero division.
func (rn *Renderer) initDepths(near, far float64, n int, perturb bool) []float64 {
	if n < 2 {
		return []float64{0.5 * (near + far)}
	}
	t := make([]float64, n)
	spacing := (far - near) / float64(n-1)
	for j := 0; j < n; j++ {
		t[j] = near + spacing*float64(j)
		if perturb && j > 0 && j < n-1 {
			t[j] += (rn.rng.Float64() - 0.5) * spacing
		}
	}
	return t
}

// evalBoundaries evaluates the SDF at every ray's boundary depths in a
// single batch, feeding sample statistics to the acceleration structure.
func (rn *Renderer) evalBoundaries(tr *neus.TestedRays, depths [][]float64, sdfs [][]float64) {
	total := 0
	for _, t := range depths {
		total += len(t)
	}
	pts := make([]r3.Vec, 0, total)
	for i, t := range depths {
		for _, tj := range t {
			pts = append(pts, tr.At(i, tj))
		}
	}
	flat := make([]float64, total)
	rn.forwardSDF(pts, flat, false)
	off := 0
	for i, t := range depths {
		sdfs[i] = flat[off : off+len(t)]
		off += len(t)
	}
}

// upsampleRound draws nUp extra depths per ray by inverse-CDF sampling of
// the opacity implied by the current SDF estimates, evaluates the SDF at the
// new depths only and merges them in sorted order.
func (rn *Renderer) upsampleRound(tr *neus.TestedRays, depths, sdfs [][]float64, invS float64, nUp int, perturb bool) {
	nRays := tr.Len()
	newT := make([][]float64, nRays)
	pts := make([]r3.Vec, 0, nRays*nUp)
	for i := 0; i < nRays; i++ {
		if len(depths[i]) < 2 {
			continue
		}
		newT[i] = rn.importanceDepths(depths[i], sdfs[i], invS, nUp, perturb)
		for _, tj := range newT[i] {
			pts = append(pts, tr.At(i, tj))
		}
	}
	newS := make([]float64, len(pts))
	rn.forwardSDF(pts, newS, false)
	off := 0
	for i := 0; i < nRays; i++ {
		k := len(newT[i])
		if k == 0 {
			continue
		}
		depths[i], sdfs[i] = mergeSorted(depths[i], sdfs[i], newT[i], newS[off:off+k])
		off += k
	}
}

// importanceDepths inverse-CDF samples nUp depths from one ray's current
// coarse opacity estimate, concentrating them near the estimated surface.
// Returned depths are sorted.
func (rn *Renderer) importanceDepths(t, s []float64, invS float64, nUp int, perturb bool) []float64 {
	m := len(t) - 1
	alpha := make([]float64, m)
	alphaFromBoundaries(t, s, invS, alpha)
	vw := make([]float64, m)
	RayAlphaToVW(alpha, m, vw)

	cdf := make([]float64, m+1)
	for i, w := range vw {
		cdf[i+1] = cdf[i] + w
	}
	total := cdf[m]
	if total < normEps {
		// Nothing visible yet; resample the span uniformly.
		return rn.initDepths(t[0], t[m], nUp, perturb)
	}
	for i := range cdf {
		cdf[i] /= total
	}

	out := make([]float64, nUp)
	for j := 0; j < nUp; j++ {
		u := (float64(j) + 0.5) / float64(nUp)
		if perturb {
			u = (float64(j) + rn.rng.Float64()) / float64(nUp)
		}
		i := sort.SearchFloat64s(cdf, u)
		if i > 0 {
			i--
		}
		if i >= m {
			i = m - 1
		}
		span := cdf[i+1] - cdf[i]
		frac := 0.5
		if span > normEps {
			frac = (u - cdf[i]) / span
		}
		out[j] = t[i] + frac*(t[i+1]-t[i])
	}
	return out
}

// mergeSorted merges two (depth, sdf) pairs sorted by depth.
func mergeSorted(t1, s1, t2, s2 []float64) (t, s []float64) {
	t = make([]float64, 0, len(t1)+len(t2))
	s = make([]float64, 0, len(t1)+len(t2))
	i, j := 0, 0
	for i < len(t1) && j < len(t2) {
		if t1[i] <= t2[j] {
			t = append(t, t1[i])
			s = append(s, s1[i])
			i++
		} else {
			t = append(t, t2[j])
			s = append(s, s2[j])
			j++
		}
	}
	t = append(append(t, t1[i:]...), t2[j:]...)
	s = append(append(s, s1[i:]...), s2[j:]...)
	return t, s
}

// shade evaluates gradients and radiance at the buffer's sample positions
// according to the declared capabilities. rayOf maps each sample to its
// tested ray.
func (rn *Renderer) shade(buf *Buffer, tr *neus.TestedRays, rayOf []int, pts []r3.Vec, cfg Config) error {
	needGrad := cfg.WithNormal || rn.caps.UseNablas
	var grads []r3.Vec
	if needGrad {
		grads = make([]r3.Vec, len(pts))
		rn.forwardSDFGrad(pts, buf.SDF, grads, false)
		if cfg.WithNormal {
			buf.Normals = grads
		}
	} else {
		rn.forwardSDF(pts, buf.SDF, false)
	}
	if !cfg.WithRGB {
		return nil
	}
	if rn.radiance == nil {
		return errNoRadiance
	}
	var viewDirs []r3.Vec
	if rn.caps.UseViewDirs {
		viewDirs = make([]r3.Vec, len(pts))
		for j, i := range rayOf {
			viewDirs[j] = r3.Unit(tr.D[i])
		}
	}
	cond := rn.expandCond(tr, rayOf)
	buf.RGB = make([]r3.Vec, len(pts))
	rn.radiance.Radiance(pts, grads, viewDirs, cond, buf.RGB)
	return nil
}

// expandCond gathers per-ray conditioning into per-sample slices for the
// capabilities the field declared.
func (rn *Renderer) expandCond(tr *neus.TestedRays, rayOf []int) neus.RadianceCond {
	var cond neus.RadianceCond
	if rn.caps.UseTimestamps && tr.Ts != nil {
		cond.Ts = make([]float64, len(rayOf))
		for j, i := range rayOf {
			cond.Ts[j] = tr.Ts[i]
		}
	}
	if rn.caps.UseFrameIdx && tr.Fidx != nil {
		cond.Fidx = make([]int, len(rayOf))
		for j, i := range rayOf {
			cond.Fidx[j] = tr.Fidx[i]
		}
	}
	if rn.caps.UseBatchIdx && tr.Bidx != nil {
		cond.Bidx = make([]int, len(rayOf))
		for j, i := range rayOf {
			cond.Bidx[j] = tr.Bidx[i]
		}
	}
	if rn.caps.UsePixel && tr.Pix != nil {
		cond.Pix = make([]r2.Vec, len(rayOf))
		for j, i := range rayOf {
			cond.Pix[j] = tr.Pix[i]
		}
	}
	return cond
}
