package render

import (
	"github.com/soypat/neus/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// Rendered holds per-ray accumulated outputs for an entire input ray batch.
// Entries not scattered into by the compositor keep their zero/background
// value.
type Rendered struct {
	Mask    []float64
	Depth   []float64
	RGB     []r3.Vec
	Normals []r3.Vec
}

// NewRendered returns zeroed output arrays for numRays original rays.
func NewRendered(numRays int, withRGB, withNormal bool) *Rendered {
	r := &Rendered{
		Mask:  make([]float64, numRays),
		Depth: make([]float64, numRays),
	}
	if withRGB {
		r.RGB = make([]r3.Vec, numRays)
	}
	if withNormal {
		r.Normals = make([]r3.Vec, numRays)
	}
	return r
}

// CompositeOptions controls the reduction of sample weights into per-ray
// outputs.
type CompositeOptions struct {
	// DepthUseNormalizedVW renormalizes weights before the depth reduction
	// so partially opaque rays still report a meaningful surface depth.
	DepthUseNormalizedVW bool
	// Training keeps raw gradient magnitudes in the normal output so
	// gradient penalty losses downstream see true values. Off, each sample
	// normal is clamped to [-1,1] and unit normalized before weighting.
	Training bool
}

// Composite converts the buffer's per-sample alpha into visibility weights
// and scatters weighted reductions into out at the buffer's hit indices.
// Batched and packed buffers produce numerically identical results for
// equivalent sample sets. Empty buffers are a no-op.
func Composite(buf *Buffer, out *Rendered, opt CompositeOptions) {
	switch buf.Kind {
	case KindEmpty:
		return
	case KindBatched:
		compositeBatched(buf, out, opt)
	case KindPacked:
		compositePacked(buf, out, opt)
	}
}

func compositeBatched(buf *Buffer, out *Rendered, opt CompositeOptions) {
	n := buf.NumSamples()
	if buf.VW == nil {
		buf.VW = make([]float64, n)
	}
	RayAlphaToVW(buf.Alpha, buf.NumPerRay, buf.VW)
	for i, ind := range buf.RaysIndsHit {
		start := i * buf.NumPerRay
		vw := buf.VW[start : start+buf.NumPerRay]
		t := buf.T[start : start+buf.NumPerRay]

		vwSum := 0.0
		for _, w := range vw {
			vwSum += w
		}
		out.Mask[ind] = vwSum

		depth := 0.0
		if opt.DepthUseNormalizedVW {
			inv := 1 / (vwSum + normEps)
			for j, w := range vw {
				depth += w * inv * t[j]
			}
		} else {
			for j, w := range vw {
				depth += w * t[j]
			}
		}
		out.Depth[ind] = depth

		if out.RGB != nil && buf.RGB != nil {
			var c r3.Vec
			for j, w := range vw {
				c = r3.Add(c, r3.Scale(w, buf.RGB[start+j]))
			}
			out.RGB[ind] = c
		}
		if out.Normals != nil && buf.Normals != nil {
			var nrm r3.Vec
			for j, w := range vw {
				nrm = r3.Add(nrm, r3.Scale(w, shadingNormal(buf.Normals[start+j], opt.Training)))
			}
			out.Normals[ind] = nrm
		}
	}
}

func compositePacked(buf *Buffer, out *Rendered, opt CompositeOptions) {
	n := buf.NumSamples()
	if buf.VW == nil {
		buf.VW = make([]float64, n)
	}
	PackedAlphaToVW(buf.Alpha, buf.PackInfos, buf.VW)

	vwSum := make([]float64, len(buf.PackInfos))
	PackedSum(buf.VW, buf.PackInfos, vwSum)

	weights := buf.VW
	if opt.DepthUseNormalizedVW {
		denom := make([]float64, len(vwSum))
		for i, s := range vwSum {
			denom[i] = s + normEps
		}
		weights = make([]float64, n)
		PackedDiv(buf.VW, denom, buf.PackInfos, weights)
	}
	wt := make([]float64, n)
	for j := range wt {
		wt[j] = weights[j] * buf.T[j]
	}
	depth := make([]float64, len(buf.PackInfos))
	PackedSum(wt, buf.PackInfos, depth)

	for i, ind := range buf.RaysIndsHit {
		out.Mask[ind] = vwSum[i]
		out.Depth[ind] = depth[i]
	}

	if out.RGB != nil && buf.RGB != nil {
		wc := make([]r3.Vec, n)
		for j := range wc {
			wc[j] = r3.Scale(buf.VW[j], buf.RGB[j])
		}
		sums := make([]r3.Vec, len(buf.PackInfos))
		PackedSumVec(wc, buf.PackInfos, sums)
		for i, ind := range buf.RaysIndsHit {
			out.RGB[ind] = sums[i]
		}
	}
	if out.Normals != nil && buf.Normals != nil {
		wn := make([]r3.Vec, n)
		for j := range wn {
			wn[j] = r3.Scale(buf.VW[j], shadingNormal(buf.Normals[j], opt.Training))
		}
		sums := make([]r3.Vec, len(buf.PackInfos))
		PackedSumVec(wn, buf.PackInfos, sums)
		for i, ind := range buf.RaysIndsHit {
			out.Normals[ind] = sums[i]
		}
	}
}

// shadingNormal returns the per-sample normal contribution. At inference the
// raw gradient is clamped and unit normalized to avoid unnormalized-gradient
// artifacts in visualized output.
func shadingNormal(grad r3.Vec, training bool) r3.Vec {
	if training {
		return grad
	}
	grad = d3.Clamp(grad, d3.Elem(-1), d3.Elem(1))
	if n := r3.Norm(grad); n > normEps {
		grad = r3.Scale(1/n, grad)
	}
	return grad
}
