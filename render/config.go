package render

import (
	"errors"
	"fmt"
)

// Mode selects the sampler strategy used by RayQuery. The set is closed:
// unknown values are rejected at Validate time and never fall back to a
// default strategy.
type Mode uint8

const (
	ModeInvalid Mode = iota
	// ModeCoarseMultiUpsample draws uniform depths then concentrates extra
	// samples near the estimated surface over a fixed number of
	// inverse-CDF upsampling rounds. Produces batched buffers.
	ModeCoarseMultiUpsample
	// ModeMarchOccMultiUpsample restricts marching to occupied segments
	// reported by the acceleration structure before upsampling. Produces
	// packed buffers and requires an acceleration structure.
	ModeMarchOccMultiUpsample
	// ModeMarchOccMultiUpsampleCompressed additionally merges adjacent
	// near-duplicate depths before full evaluation.
	ModeMarchOccMultiUpsampleCompressed
	// ModeMarchOccMultiUpsampleCompressedStrategy is declared but has no
	// concrete algorithm yet.
	ModeMarchOccMultiUpsampleCompressedStrategy
	// ModeMarchOcc (marching without upsampling) is declared but
	// intentionally unimplemented.
	ModeMarchOcc
	// ModeSphereTrace steps each ray by its queried SDF magnitude and
	// yields at most one surface sample per converged ray.
	ModeSphereTrace

	modeMax
)

func (m Mode) String() string {
	switch m {
	case ModeCoarseMultiUpsample:
		return "coarse_multi_upsample"
	case ModeMarchOccMultiUpsample:
		return "march_occ_multi_upsample"
	case ModeMarchOccMultiUpsampleCompressed:
		return "march_occ_multi_upsample_compressed"
	case ModeMarchOccMultiUpsampleCompressedStrategy:
		return "march_occ_multi_upsample_compressed_strategy"
	case ModeMarchOcc:
		return "march_occ"
	case ModeSphereTrace:
		return "sphere_trace"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

var (
	// ErrUnsupportedMode reports a query mode outside the declared set.
	ErrUnsupportedMode = errors.New("render: unsupported query mode")
	// ErrModeUnimplemented reports a declared mode with no algorithm.
	ErrModeUnimplemented = errors.New("render: query mode not implemented")
	// ErrNoAccel reports a marching mode configured without an
	// acceleration structure.
	ErrNoAccel = errors.New("render: query mode requires an acceleration structure")
)

// Config is the per-call configuration surface of RayQuery.
type Config struct {
	Mode       Mode
	WithRGB    bool
	WithNormal bool
	// Perturb jitters initial depths and stratified CDF draws.
	Perturb bool
	// ForwardInvS overrides the annealed sharpness when nonzero.
	ForwardInvS float64
	// DepthUseNormalizedVW renormalizes weights for the depth reduction.
	DepthUseNormalizedVW bool
	// WithNearSDF attaches an SDF probe at each tested ray's near boundary
	// to the details output.
	WithNearSDF bool

	// Coarse/upsampling parameters.
	NumCoarse      int     // initial boundary depths per ray.
	NumUpsample    int     // extra depths added per upsampling round.
	UpsampleRounds int     // fixed number of upsampling rounds.
	UpsampleInvS   float64 // base sharpness of CDF estimation rounds.

	// Occupancy marching parameters.
	MarchStep   float64 // world-space step; zero derives one from the bounds.
	CompressTol float64 // dedup distance as a fraction of MarchStep.

	// Sphere tracing parameters.
	SphereTraceIters int
	SphereTraceEps   float64
}

// DefaultConfig returns the configuration used by the package tests and
// examples: coarse sampling with four upsampling rounds and normalized
// depth.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeCoarseMultiUpsample,
		DepthUseNormalizedVW: true,
		NumCoarse:            64,
		NumUpsample:          16,
		UpsampleRounds:       4,
		UpsampleInvS:         64,
		SphereTraceIters:     64,
		SphereTraceEps:       1e-4,
	}
}

// Validate checks the mode against the closed strategy set and fills
// defaulted numeric parameters. It fails fast on declared-but-unimplemented
// modes so a misconfiguration never reaches the sampling hot path.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCoarseMultiUpsample, ModeMarchOccMultiUpsample,
		ModeMarchOccMultiUpsampleCompressed, ModeSphereTrace:
	case ModeMarchOcc, ModeMarchOccMultiUpsampleCompressedStrategy:
		return fmt.Errorf("%w: %v", ErrModeUnimplemented, c.Mode)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedMode, c.Mode)
	}
	if c.NumCoarse <= 1 {
		c.NumCoarse = 64
	}
	if c.NumUpsample <= 0 {
		c.NumUpsample = 16
	}
	if c.UpsampleRounds <= 0 {
		c.UpsampleRounds = 4
	}
	if c.UpsampleInvS <= 0 {
		c.UpsampleInvS = 64
	}
	if c.CompressTol <= 0 {
		c.CompressTol = 0.25
	}
	if c.SphereTraceIters <= 0 {
		c.SphereTraceIters = 64
	}
	if c.SphereTraceEps <= 0 {
		c.SphereTraceEps = 1e-4
	}
	return nil
}
