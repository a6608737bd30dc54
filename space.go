package neus

import (
	"errors"
	"math"
	"math/rand"

	"github.com/soypat/neus/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Space is the axis aligned bounding volume the renderer operates in. It is
// the authority for ray/volume intersection and uniform point sampling, and
// is rescaled (strictly last) when the modeled volume shrinks.
type Space struct {
	bb d3.Box
}

// NewSpace returns a Space spanning bounds.
func NewSpace(bounds r3.Box) *Space {
	sz := r3.Sub(bounds.Max, bounds.Min)
	if sz.X <= 0 || sz.Y <= 0 || sz.Z <= 0 {
		panic("neus: degenerate space bounds")
	}
	return &Space{bb: d3.Box(bounds)}
}

// Bounds returns the current bounding box of the space.
func (s *Space) Bounds() r3.Box { return r3.Box(s.bb) }

var errDegenerateBounds = errors.New("neus: degenerate bounds")

// RescaleVolume replaces the space bounds with a tighter box. Callers must
// rescale field evaluators and acceleration structures before the space,
// since those steps still express their transforms in the old bounds.
func (s *Space) RescaleVolume(bounds r3.Box) error {
	sz := r3.Sub(bounds.Max, bounds.Min)
	if sz.X <= 0 || sz.Y <= 0 || sz.Z <= 0 {
		return errDegenerateBounds
	}
	s.bb = d3.Box(bounds)
	return nil
}

// SamplePtsUniform returns n points uniformly distributed within the space.
func (s *Space) SamplePtsUniform(n int, rng *rand.Rand) []r3.Vec {
	return s.bb.RandomSet(n, rng)
}

// RayTest intersects a ray batch with the space and returns the subset of
// rays that hit, re-indexed, with near/far set to the intersection interval
// (further clipped by any per-ray overrides). Input shapes are validated
// before any per-ray work is done.
func (s *Space) RayTest(rays *Rays) (*TestedRays, error) {
	if err := rays.validate(); err != nil {
		return nil, err
	}
	n := rays.Len()
	tr := &TestedRays{NumTotal: n}
	for i := 0; i < n; i++ {
		tnear, tfar, ok := s.bb.IntersectRay(rays.O[i], rays.D[i])
		if !ok {
			continue
		}
		if rays.Near != nil {
			tnear = math.Max(tnear, rays.Near[i])
		}
		if rays.Far != nil {
			tfar = math.Min(tfar, rays.Far[i])
		}
		if tfar-tnear <= tolerance {
			continue
		}
		tr.Inds = append(tr.Inds, i)
		tr.O = append(tr.O, rays.O[i])
		tr.D = append(tr.D, rays.D[i])
		tr.Near = append(tr.Near, tnear)
		tr.Far = append(tr.Far, tfar)
		if rays.Ts != nil {
			tr.Ts = append(tr.Ts, rays.Ts[i])
		}
		if rays.Fidx != nil {
			tr.Fidx = append(tr.Fidx, rays.Fidx[i])
		}
		if rays.Bidx != nil {
			tr.Bidx = append(tr.Bidx, rays.Bidx[i])
		}
		if rays.Pix != nil {
			tr.Pix = append(tr.Pix, rays.Pix[i])
		}
	}
	if rays.Aux != nil {
		tr.Aux = make(map[string][]float64, len(rays.Aux))
		for k, v := range rays.Aux {
			sub := make([]float64, len(tr.Inds))
			for j, idx := range tr.Inds {
				sub[j] = v[idx]
			}
			tr.Aux[k] = sub
		}
	}
	return tr, nil
}
