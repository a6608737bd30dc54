package d3

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

// d3.Box is a 3d bounding box.
type Box r3.Box

// NewBox creates a 3d box with a given center and size.
func NewBox(center, size r3.Vec) Box {
	half := r3.Scale(0.5, size)
	return Box{Min: r3.Sub(center, half), Max: r3.Add(center, half)}
}

// Equals test the equality of 3d boxes.
func (a Box) Equals(b Box, tol float64) bool {
	return EqualWithin(a.Min, b.Min, tol) && EqualWithin(a.Max, b.Max, tol)
}

// Include enlarges a 3d box to include a point.
func (a Box) Include(v r3.Vec) Box {
	return Box{
		Min: MinElem(a.Min, v),
		Max: MaxElem(a.Max, v),
	}
}

// Size returns the size of a 3d box.
func (a Box) Size() r3.Vec {
	return r3.Sub(a.Max, a.Min)
}

// Center returns the center of a 3d box.
func (a Box) Center() r3.Vec {
	return r3.Add(a.Min, r3.Scale(0.5, a.Size()))
}

// ScaleAboutCenter returns a new 3d box scaled about the center of a box.
func (a Box) ScaleAboutCenter(k float64) Box {
	return NewBox(a.Center(), r3.Scale(k, a.Size()))
}

// Contains checks if the 3d box contains the given vector (considering bounds as inside).
func (a Box) Contains(v r3.Vec) bool {
	return a.Min.X <= v.X && a.Min.Y <= v.Y && a.Min.Z <= v.Z &&
		v.X <= a.Max.X && v.Y <= a.Max.Y && v.Z <= a.Max.Z
}

// IntersectRay returns the entry and exit distances of a ray with the box
// using the slab method. dir need not be unit length. ok is false when the
// ray misses the box entirely. Rays starting inside the box return tnear=0.
func (a Box) IntersectRay(origin, dir r3.Vec) (tnear, tfar float64, ok bool) {
	tnear = math.Inf(-1)
	tfar = math.Inf(1)
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{a.Min.X, a.Min.Y, a.Min.Z}
	hi := [3]float64{a.Max.X, a.Max.Y, a.Max.Z}
	for i := 0; i < 3; i++ {
		if d[i] == 0 {
			// Ray parallel to slab. Miss unless origin within it.
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / d[i]
		t0 := (lo[i] - o[i]) * inv
		t1 := (hi[i] - o[i]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tnear = math.Max(tnear, t0)
		tfar = math.Min(tfar, t1)
		if tnear > tfar {
			return 0, 0, false
		}
	}
	if tfar < 0 {
		return 0, 0, false // box entirely behind the ray.
	}
	tnear = math.Max(tnear, 0)
	return tnear, tfar, true
}

// Random returns a random point within a bounding box.
func (a Box) Random(rng *rand.Rand) r3.Vec {
	return r3.Vec{
		X: randomRange(a.Min.X, a.Max.X, rng),
		Y: randomRange(a.Min.Y, a.Max.Y, rng),
		Z: randomRange(a.Min.Z, a.Max.Z, rng),
	}
}

// RandomSet returns a set of random points from within a bounding box.
func (a Box) RandomSet(n int, rng *rand.Rand) Set {
	s := make([]r3.Vec, n)
	for i := range s {
		s[i] = a.Random(rng)
	}
	return s
}

// randomRange returns a random float64 [a,b)
func randomRange(a, b float64, rng *rand.Rand) float64 {
	if rng == nil {
		return a + (b-a)*rand.Float64()
	}
	return a + (b-a)*rng.Float64()
}
