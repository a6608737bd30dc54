package neus

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rays is a batch of rays to be tested against a Space. Directions need not
// be unit length; depths along a ray are expressed in multiples of the
// direction vector. All optional attributes must either be nil or share the
// ray-count leading dimension with O and D.
type Rays struct {
	O []r3.Vec // ray origins.
	D []r3.Vec // ray directions, not necessarily unit.
	// Near and Far are optional per-ray depth overrides. When present the
	// tested interval is the intersection of [Near,Far] with the space.
	Near []float64
	Far  []float64
	// Optional per-ray conditioning attributes, forwarded untouched to the
	// field evaluators for rays that survive testing.
	Ts   []float64 // timestamps.
	Fidx []int     // frame indices.
	Bidx []int     // batch indices.
	Pix  []r2.Vec  // pixel locations in [0,1]^2.
	// Aux carries any further per-ray attributes opaquely through testing.
	Aux map[string][]float64
}

// Len returns the number of rays in the batch.
func (r *Rays) Len() int { return len(r.O) }

var errRayShape = errors.New("neus: rays O and D must be non-empty and of equal length")

func (r *Rays) validate() error {
	n := len(r.O)
	if n == 0 || len(r.D) != n {
		return errRayShape
	}
	if r.Near != nil && len(r.Near) != n {
		return fmt.Errorf("neus: near override length %d does not match ray count %d", len(r.Near), n)
	}
	if r.Far != nil && len(r.Far) != n {
		return fmt.Errorf("neus: far override length %d does not match ray count %d", len(r.Far), n)
	}
	if r.Ts != nil && len(r.Ts) != n {
		return fmt.Errorf("neus: ts attribute length %d does not match ray count %d", len(r.Ts), n)
	}
	if r.Fidx != nil && len(r.Fidx) != n {
		return fmt.Errorf("neus: fidx attribute length %d does not match ray count %d", len(r.Fidx), n)
	}
	if r.Bidx != nil && len(r.Bidx) != n {
		return fmt.Errorf("neus: bidx attribute length %d does not match ray count %d", len(r.Bidx), n)
	}
	if r.Pix != nil && len(r.Pix) != n {
		return fmt.Errorf("neus: pix attribute length %d does not match ray count %d", len(r.Pix), n)
	}
	for k, v := range r.Aux {
		if len(v) != n {
			return fmt.Errorf("neus: aux attribute %q length %d does not match ray count %d", k, len(v), n)
		}
	}
	return nil
}

// TestedRays is the subset of a ray batch that intersects the space. Inds
// maps every tested ray back into the original batch. Near and Far hold the
// intersection interval. TestedRays is never mutated after creation.
type TestedRays struct {
	Inds []int
	O    []r3.Vec
	D    []r3.Vec
	Near []float64
	Far  []float64
	Ts   []float64
	Fidx []int
	Bidx []int
	Pix  []r2.Vec
	Aux  map[string][]float64
	// NumTotal is the size of the original batch the indices refer to.
	NumTotal int
}

// Len returns the number of tested rays.
func (tr *TestedRays) Len() int { return len(tr.Inds) }

// At returns the world position at depth t along tested ray i.
func (tr *TestedRays) At(i int, t float64) r3.Vec {
	return r3.Add(tr.O[i], r3.Scale(t, tr.D[i]))
}

// Segment is a depth interval [T0,T1] along a ray, typically an occupied
// stretch reported by an acceleration structure.
type Segment struct {
	T0, T1 float64
}
