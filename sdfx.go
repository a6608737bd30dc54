package neus

import (
	sdfx "github.com/deadsy/sdfx/sdf"
	"gonum.org/v1/gonum/spatial/r3"
)

// FromSDFX wraps a deadsy/sdfx model as a field evaluator so meshes and
// primitives built with that library can be rendered directly. The second
// return value is the model's bounding box, ready to seed a Space.
func FromSDFX(s sdfx.SDF3) (SDFGradField, r3.Box) {
	bb := s.BoundingBox()
	f := FieldFunc{Eval: func(p r3.Vec) float64 {
		return s.Evaluate(sdfx.V3{X: p.X, Y: p.Y, Z: p.Z})
	}}
	return f, r3.Box{
		Min: r3.Vec{X: bb.Min.X, Y: bb.Min.Y, Z: bb.Min.Z},
		Max: r3.Vec{X: bb.Max.X, Y: bb.Max.Y, Z: bb.Max.Z},
	}
}
