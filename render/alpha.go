package render

import (
	"math"

	"github.com/soypat/neus"
)

// normEps guards denominators in normalization and CDF ratios.
const normEps = 1e-10

// Alpha converts one depth interval [t0,t1] bounded by SDF samples s0, s1
// into opacity, given the sharpness (inverse scale) parameter invS. Both
// boundary SDF values are real queried values, not midpoint estimates: the
// opacity is the relative drop of the logistic CDF of the scaled SDF across
// the interval,
//
//	alpha = clamp((cdf(s0) - cdf(s1)) / cdf(s0), 0, 1)
//
// which is robust to the noisy gradients of grid backed fields. Degenerate
// intervals (t1 <= t0) and flat SDF stretches (s0 == s1) are numerically
// safe and never an error.
func Alpha(t0, t1, s0, s1, invS float64) float64 {
	if t1-t0 <= 0 {
		return 0
	}
	cdf0 := neus.Sigmoid(s0 * invS)
	cdf1 := neus.Sigmoid(s1 * invS)
	return neus.Clamp((cdf0-cdf1)/math.Max(cdf0, normEps), 0, 1)
}

// AlphaVec is Alpha vectorized over many intervals at once; layout agnostic,
// it works equally on batched rows and packed spans. dst must have the
// interval count and may alias any input.
func AlphaVec(t0, t1, s0, s1 []float64, invS float64, dst []float64) {
	for i := range dst {
		dst[i] = Alpha(t0[i], t1[i], s0[i], s1[i], invS)
	}
}

// alphaFromBoundaries fills dst with the n-1 interval opacities of n sorted
// boundary depths t and their SDF values s.
func alphaFromBoundaries(t, s []float64, invS float64, dst []float64) {
	for i := 0; i+1 < len(t); i++ {
		dst[i] = Alpha(t[i], t[i+1], s[i], s[i+1], invS)
	}
}
