package neus

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Field evaluator contracts. The renderer only ever calls these as pure
// functions of a batch of points; how the values are computed (analytic
// function, neural network, voxel grid) is not its concern.

// SDFField is a batch signed distance evaluator. dst must have len(pts)
// capacity; negative values are inside the surface.
type SDFField interface {
	SDF(pts []r3.Vec, dst []float64)
}

// SDFGradField additionally evaluates the SDF gradient (the unnormalized
// surface normal) at each point.
type SDFGradField interface {
	SDFField
	SDFGrad(pts []r3.Vec, dstSDF []float64, dstGrad []r3.Vec)
}

// RadianceCond carries the optional per-point conditioning a radiance
// evaluator may consume. Slices are nil unless the corresponding capability
// is declared in Caps.
type RadianceCond struct {
	Ts   []float64
	Fidx []int
	Bidx []int
	Pix  []r2.Vec
	// Appear is a per-point appearance code.
	Appear []float64
}

// RadianceField evaluates view dependent color for a batch of points.
// grads and viewDirs may be nil when the corresponding capability is off.
type RadianceField interface {
	Radiance(pts, grads, viewDirs []r3.Vec, cond RadianceCond, dst []r3.Vec)
}

// VolumeRescaler is implemented by evaluators whose coordinate transform
// depends on the modeled bounds. Evaluators without it are treated as world
// space functions and skipped during shrink.
type VolumeRescaler interface {
	RescaleVolume(bounds r3.Box)
}

// Caps declares which conditioning inputs the field evaluators consume.
// It is validated once at renderer construction and consulted before every
// evaluator call; the renderer never supplies inputs a field did not ask for.
type Caps struct {
	UseViewDirs   bool
	UseNablas     bool
	UseTimestamps bool
	UseFrameIdx   bool
	UseBatchIdx   bool
	UsePixel      bool
	UseAppearance bool
}

// FieldFunc adapts a pure distance function into an SDFGradField using
// central difference gradients, in the manner of classic SDF normal
// estimation. Useful for analytic scenes and tests.
type FieldFunc struct {
	Eval func(r3.Vec) float64
	// GradEps is the half step of the central difference. Zero means 1e-4.
	GradEps float64
}

func (f FieldFunc) SDF(pts []r3.Vec, dst []float64) {
	for i, p := range pts {
		dst[i] = f.Eval(p)
	}
}

func (f FieldFunc) SDFGrad(pts []r3.Vec, dstSDF []float64, dstGrad []r3.Vec) {
	eps := f.GradEps
	if eps == 0 {
		eps = 1e-4
	}
	for i, p := range pts {
		dstSDF[i] = f.Eval(p)
		dstGrad[i] = r3.Vec{
			X: f.Eval(r3.Add(p, r3.Vec{X: eps})) - f.Eval(r3.Add(p, r3.Vec{X: -eps})),
			Y: f.Eval(r3.Add(p, r3.Vec{Y: eps})) - f.Eval(r3.Add(p, r3.Vec{Y: -eps})),
			Z: f.Eval(r3.Add(p, r3.Vec{Z: eps})) - f.Eval(r3.Add(p, r3.Vec{Z: -eps})),
		}
		dstGrad[i] = r3.Scale(1/(2*eps), dstGrad[i])
	}
}

var _ SDFGradField = FieldFunc{}
