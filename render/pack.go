package render

import "gonum.org/v1/gonum/spatial/r3"

// Segmented reductions over packed sample arrays. Each PackInfo delimits one
// ray's contiguous, depth-ordered samples; rays are independent of each
// other so only intra-ray order matters.

// PackedSum reduces vals into one sum per ray. dst must have one slot per
// pack info.
func PackedSum(vals []float64, packs []PackInfo, dst []float64) {
	for i, pi := range packs {
		sum := 0.0
		for j := pi.Offset; j < pi.Offset+pi.Count; j++ {
			sum += vals[j]
		}
		dst[i] = sum
	}
}

// PackedSumVec reduces per-sample vectors into one sum per ray.
func PackedSumVec(vals []r3.Vec, packs []PackInfo, dst []r3.Vec) {
	for i, pi := range packs {
		var sum r3.Vec
		for j := pi.Offset; j < pi.Offset+pi.Count; j++ {
			sum = r3.Add(sum, vals[j])
		}
		dst[i] = sum
	}
}

// PackedDiv divides every sample of ray i by denom[i], writing into dst
// (which may alias vals).
func PackedDiv(vals []float64, denom []float64, packs []PackInfo, dst []float64) {
	for i, pi := range packs {
		d := denom[i]
		for j := pi.Offset; j < pi.Offset+pi.Count; j++ {
			dst[j] = vals[j] / d
		}
	}
}

// PackedAlphaToVW runs the alpha compositing recurrence within each ray of a
// packed buffer: vw_i = alpha_i * prod_{j<i} (1-alpha_j), a segmented
// exclusive scan of transmittance. dst may alias alpha.
func PackedAlphaToVW(alpha []float64, packs []PackInfo, dst []float64) {
	for _, pi := range packs {
		trans := 1.0
		for j := pi.Offset; j < pi.Offset+pi.Count; j++ {
			a := alpha[j]
			dst[j] = a * trans
			trans *= 1 - a
		}
	}
}

// RayAlphaToVW is the batched-layout counterpart of PackedAlphaToVW over a
// row major [numRays x numPerRay] alpha array.
func RayAlphaToVW(alpha []float64, numPerRay int, dst []float64) {
	for off := 0; off < len(alpha); off += numPerRay {
		trans := 1.0
		for j := off; j < off+numPerRay; j++ {
			a := alpha[j]
			dst[j] = a * trans
			trans *= 1 - a
		}
	}
}
