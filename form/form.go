// Package form provides exact analytic signed distance shapes for composing
// renderable scenes without a learned field: primitives plus boolean
// combinators. Constructors panic on dimensions that make no geometric sense.
package form

import (
	"math"

	"github.com/soypat/neus"
	"github.com/soypat/neus/internal/d3"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Shape is an analytic signed distance function with known bounds.
type Shape interface {
	Evaluate(p r3.Vec) float64
	Bounds() r3.Box
}

// Field adapts a shape into a renderer field evaluator with central
// difference gradients. The returned box is the shape's bounds, ready to
// seed a Space.
func Field(s Shape) (neus.SDFGradField, r3.Box) {
	return neus.FieldFunc{Eval: s.Evaluate}, s.Bounds()
}

// box is a 3d box.
type box struct {
	size  r3.Vec
	round float64
	bb    r3.Box
}

// Box returns a 3d box shape (rounded corners with round > 0).
func Box(size r3.Vec, round float64) *box {
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		panic("size <= 0")
	}
	if round < 0 {
		panic("round < 0")
	}
	size = r3.Scale(0.5, size)
	return &box{
		size:  r3.Sub(size, d3.Elem(round)),
		round: round,
		bb:    r3.Box{Min: r3.Scale(-1, size), Max: size},
	}
}

// Evaluate returns the minimum distance to a 3d box.
func (s *box) Evaluate(p r3.Vec) float64 {
	return sdfBox3d(p, s.size) - s.round
}

func (s *box) Bounds() r3.Box { return s.bb }

// Sphere (exact distance field)

type sphere struct {
	radius float64
	bb     r3.Box
}

// Sphere returns a sphere shape centered at the origin.
func Sphere(radius float64) *sphere {
	if radius <= 0 {
		panic("radius <= 0")
	}
	d := d3.Elem(radius)
	return &sphere{
		radius: radius,
		bb:     r3.Box{Min: r3.Scale(-1, d), Max: d},
	}
}

// Evaluate returns the minimum distance to a sphere.
func (s *sphere) Evaluate(p r3.Vec) float64 {
	return r3.Norm(p) - s.radius
}

func (s *sphere) Bounds() r3.Box { return s.bb }

// Cylinder (exact distance field)

type cylinder struct {
	height float64
	radius float64
	round  float64
	bb     r3.Box
}

// Cylinder returns a Z-aligned cylinder shape (rounded edges with round > 0).
func Cylinder(height, radius, round float64) *cylinder {
	if radius <= 0 {
		panic("radius <= 0")
	}
	if round < 0 {
		panic("round < 0")
	}
	if round > radius {
		panic("round > radius")
	}
	if height < 2.0*round {
		panic("height < 2 * round")
	}
	d := r3.Vec{X: radius, Y: radius, Z: height / 2}
	return &cylinder{
		height: (height / 2) - round,
		radius: radius - round,
		round:  round,
		bb:     r3.Box{Min: r3.Scale(-1, d), Max: d},
	}
}

// Capsule returns a capsule shape, a cylinder with fully rounded ends.
func Capsule(height, radius float64) *cylinder {
	return Cylinder(height, radius, radius)
}

// Evaluate returns the minimum distance to a cylinder.
func (s *cylinder) Evaluate(p r3.Vec) float64 {
	d := sdfBox2d(r2.Vec{X: math.Hypot(p.X, p.Y), Y: p.Z}, r2.Vec{X: s.radius, Y: s.height})
	return d - s.round
}

func (s *cylinder) Bounds() r3.Box { return s.bb }

// Boolean operations. Distances from booleans are lower bounds rather than
// exact in the interior, which is fine for rendering: sign and surface
// distance are preserved.

type union struct {
	shapes []Shape
	bb     r3.Box
}

// Union returns the union of one or more shapes.
func Union(shapes ...Shape) Shape {
	if len(shapes) == 0 {
		panic("union of nothing")
	}
	bb := shapes[0].Bounds()
	for _, s := range shapes[1:] {
		sb := s.Bounds()
		bb.Min = d3.MinElem(bb.Min, sb.Min)
		bb.Max = d3.MaxElem(bb.Max, sb.Max)
	}
	return &union{shapes: shapes, bb: bb}
}

func (s *union) Evaluate(p r3.Vec) float64 {
	d := s.shapes[0].Evaluate(p)
	for _, sh := range s.shapes[1:] {
		d = math.Min(d, sh.Evaluate(p))
	}
	return d
}

func (s *union) Bounds() r3.Box { return s.bb }

type diff struct {
	s0, s1 Shape
}

// Difference returns s0 with s1 carved out.
func Difference(s0, s1 Shape) Shape {
	return &diff{s0: s0, s1: s1}
}

func (s *diff) Evaluate(p r3.Vec) float64 {
	return math.Max(s.s0.Evaluate(p), -s.s1.Evaluate(p))
}

func (s *diff) Bounds() r3.Box { return s.s0.Bounds() }

type intersection struct {
	s0, s1 Shape
}

// Intersect returns the intersection of two shapes.
func Intersect(s0, s1 Shape) Shape {
	return &intersection{s0: s0, s1: s1}
}

func (s *intersection) Evaluate(p r3.Vec) float64 {
	return math.Max(s.s0.Evaluate(p), s.s1.Evaluate(p))
}

func (s *intersection) Bounds() r3.Box {
	b0, b1 := s.s0.Bounds(), s.s1.Bounds()
	return r3.Box{Min: d3.MaxElem(b0.Min, b1.Min), Max: d3.MinElem(b0.Max, b1.Max)}
}

type translate struct {
	s Shape
	v r3.Vec
}

// Translate moves a shape by v.
func Translate(s Shape, v r3.Vec) Shape {
	return &translate{s: s, v: v}
}

func (s *translate) Evaluate(p r3.Vec) float64 {
	return s.s.Evaluate(r3.Sub(p, s.v))
}

func (s *translate) Bounds() r3.Box {
	bb := s.s.Bounds()
	return r3.Box{Min: r3.Add(bb.Min, s.v), Max: r3.Add(bb.Max, s.v)}
}

func sdfBox3d(p, s r3.Vec) float64 {
	d := r3.Sub(d3.AbsElem(p), s)
	if d.X > 0 && d.Y > 0 && d.Z > 0 {
		return r3.Norm(d)
	}
	if d.X > 0 && d.Y > 0 {
		return math.Hypot(d.X, d.Y)
	}
	if d.X > 0 && d.Z > 0 {
		return math.Hypot(d.X, d.Z)
	}
	if d.Y > 0 && d.Z > 0 {
		return math.Hypot(d.Y, d.Z)
	}
	if d.X > 0 {
		return d.X
	}
	if d.Y > 0 {
		return d.Y
	}
	if d.Z > 0 {
		return d.Z
	}
	return d3.Max(d)
}

func sdfBox2d(p, s r2.Vec) float64 {
	p = r2.Vec{X: math.Abs(p.X), Y: math.Abs(p.Y)}
	d := r2.Sub(p, s)
	if d.X > 0 && d.Y > 0 {
		return math.Hypot(d.X, d.Y)
	}
	if d.X > 0 {
		return d.X
	}
	if d.Y > 0 {
		return d.Y
	}
	return math.Max(d.X, d.Y)
}
