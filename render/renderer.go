package render

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/soypat/neus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Accel is the contract of the spatial acceleration structure. The renderer
// treats it as a capability object: it never inspects internals beyond
// DebugStats and the shrink query. All call sites tolerate a nil Accel.
type Accel interface {
	// Segments returns, per tested ray, the occupied depth intervals the
	// ray crosses. Rays crossing no occupied space get an empty slice.
	Segments(tr *neus.TestedRays) [][]neus.Segment
	// SamplePtsInOccupied returns n points inside occupied space.
	SamplePtsInOccupied(n int) []r3.Vec
	// CollectSamples feeds raw SDF evaluations back into the occupancy
	// statistics. Safe for concurrent callers.
	CollectSamples(pts []r3.Vec, sdf []float64)
	// Init seeds the occupancy statistics from the field.
	Init(sdf func(pts []r3.Vec, dst []float64))
	// Step advances periodic occupancy maintenance for iteration it.
	Step(it int, sdf func(pts []r3.Vec, dst []float64))
	// TryShrink returns a tighter bounding box based on accumulated
	// occupancy statistics.
	TryShrink() r3.Box
	// RescaleVolume rebases the structure onto new bounds.
	RescaleVolume(bounds r3.Box)
	// Granularity is the current marching granularity level; the upsample
	// sharpness divisor is derived as 2^granularity.
	Granularity() float64
	// DebugStats exposes approximate internal statistics for diagnostics.
	DebugStats() map[string]float64
}

// Options configures a Renderer. Field and Space are mandatory.
type Options struct {
	Field    neus.SDFGradField
	Radiance neus.RadianceField
	Caps     neus.Caps
	Space    *neus.Space
	Accel    Accel
	// InvS supplies the annealed sharpness. Nil means ConstInvS(800).
	InvS InvSSchedule
	// ShrinkMilestones are training iterations after which the modeled
	// bounds are tightened to the occupied region.
	ShrinkMilestones []int
	// Workers > 1 splits batch SDF evaluation across goroutines. The field
	// evaluators must then be safe for concurrent calls.
	Workers int
	Seed    int64
}

// Renderer orchestrates ray queries over a signed distance field: ray/space
// intersection, strategy-dispatched sampling, opacity estimation and
// compositing. It holds the field by reference; it is composed with the
// field, not layered into it.
type Renderer struct {
	field    neus.SDFGradField
	radiance neus.RadianceField
	caps     neus.Caps
	space    *neus.Space
	accel    Accel
	invS     InvSSchedule

	shrinkMilestones []int
	workers          int
	rng              *rand.Rand

	// Training iteration state, owned here and passed read-only to the
	// samplers.
	training         bool
	it               int
	upsampleSDivisor float64
}

// New validates the composition and returns a Renderer.
func New(opts Options) (*Renderer, error) {
	if opts.Field == nil {
		return nil, errors.New("render: nil field evaluator")
	}
	if opts.Space == nil {
		return nil, errors.New("render: nil space")
	}
	if opts.Caps.UseViewDirs && opts.Radiance == nil {
		return nil, errors.New("render: caps declare view dirs but no radiance evaluator given")
	}
	sched := opts.InvS
	if sched == nil {
		sched = ConstInvS(800)
	}
	return &Renderer{
		field:            opts.Field,
		radiance:         opts.Radiance,
		caps:             opts.Caps,
		space:            opts.Space,
		accel:            opts.Accel,
		invS:             sched,
		shrinkMilestones: opts.ShrinkMilestones,
		workers:          opts.Workers,
		rng:              rand.New(rand.NewSource(opts.Seed)),
		upsampleSDivisor: 1,
	}, nil
}

// SetTraining switches between training and inference behavior: sample
// collection into the acceleration structure and raw-gradient normals are
// training-only.
func (rn *Renderer) SetTraining(training bool) { rn.training = training }

// Training reports whether the renderer is in training mode.
func (rn *Renderer) Training() bool { return rn.training }

// Space returns the spatial bounds object.
func (rn *Renderer) Space() *neus.Space { return rn.space }

// RayTest intersects a ray batch with the space. See neus.Space.RayTest.
func (rn *Renderer) RayTest(rays *neus.Rays) (*neus.TestedRays, error) {
	return rn.space.RayTest(rays)
}

// forwardSDF evaluates the SDF and, while training, feeds the samples back
// to the acceleration structure unless skipAccel suppresses it.
func (rn *Renderer) forwardSDF(pts []r3.Vec, dst []float64, skipAccel bool) {
	rn.evalSDF(pts, dst)
	if rn.training && !skipAccel && rn.accel != nil {
		rn.accel.CollectSamples(pts, dst)
	}
}

func (rn *Renderer) forwardSDFGrad(pts []r3.Vec, dstSDF []float64, dstGrad []r3.Vec, skipAccel bool) {
	rn.field.SDFGrad(pts, dstSDF, dstGrad)
	if rn.training && !skipAccel && rn.accel != nil {
		rn.accel.CollectSamples(pts, dstSDF)
	}
}

// evalSDF is the raw batch evaluation, split across workers when enabled.
func (rn *Renderer) evalSDF(pts []r3.Vec, dst []float64) {
	if rn.workers > 1 && len(pts) >= 2*rn.workers {
		parallelFor(len(pts), rn.workers, func(start, end int) {
			rn.field.SDF(pts[start:end], dst[start:end])
		})
		return
	}
	rn.field.SDF(pts, dst)
}

// SamplePtsUniform evaluates the field at n uniformly distributed points in
// the space. Sample collection is skipped; these few points would only skew
// the occupancy statistics.
func (rn *Renderer) SamplePtsUniform(n int) ([]r3.Vec, []float64) {
	pts := rn.space.SamplePtsUniform(n, rn.rng)
	sdf := make([]float64, n)
	rn.forwardSDF(pts, sdf, true)
	return pts, sdf
}

// SamplePtsInOccupied evaluates the field at n points inside occupied space.
// Requires an acceleration structure.
func (rn *Renderer) SamplePtsInOccupied(n int) ([]r3.Vec, []float64, error) {
	if rn.accel == nil {
		return nil, nil, errors.New("render: sample in occupied requires an acceleration structure")
	}
	pts := rn.accel.SamplePtsInOccupied(n)
	sdf := make([]float64, len(pts))
	rn.forwardSDF(pts, sdf, true)
	return pts, sdf, nil
}

// TrainingInitialize seeds the acceleration structure occupancy from the
// current field. No-op without an acceleration structure.
func (rn *Renderer) TrainingInitialize() {
	if rn.accel != nil {
		rn.accel.Init(func(pts []r3.Vec, dst []float64) { rn.evalSDF(pts, dst) })
	}
}

// TrainingBeforePerStep advances the per-iteration state: records the
// iteration, refreshes the upsample sharpness divisor from the acceleration
// structure granularity and runs its periodic step while training.
func (rn *Renderer) TrainingBeforePerStep(it int) {
	rn.it = it
	if rn.accel == nil {
		return
	}
	rn.upsampleSDivisor = math.Exp2(rn.accel.Granularity())
	if rn.training {
		rn.accel.Step(it, func(pts []r3.Vec, dst []float64) { rn.evalSDF(pts, dst) })
	}
}

// TrainingAfterPerStep triggers a bounds shrink at configured milestones.
func (rn *Renderer) TrainingAfterPerStep(it int) {
	if rn.accel == nil {
		return
	}
	for _, m := range rn.shrinkMilestones {
		if it == m {
			rn.Shrink()
			break
		}
	}
}

// Shrink tightens the modeled bounds to the actually occupied region. The
// rescale order is load bearing: field first, then acceleration structure,
// then the space itself, because the earlier steps still need the pre-shrink
// bounds for their own coordinate transforms.
func (rn *Renderer) Shrink() error {
	if rn.accel == nil {
		return nil
	}
	oldBB := rn.space.Bounds()
	newBB := rn.accel.TryShrink()
	if res, ok := rn.field.(neus.VolumeRescaler); ok {
		res.RescaleVolume(newBB)
	}
	rn.accel.RescaleVolume(newBB)
	if err := rn.space.RescaleVolume(newBB); err != nil {
		return fmt.Errorf("render: shrink: %w", err)
	}
	log.Printf("render: shrink [%.2f %.2f] -> [%.2f %.2f]", oldBB.Min, oldBB.Max, newBB.Min, newBB.Max)
	return nil
}

// RayQueryInput bundles the rays of one query. Either Rays or Tested must be
// set; when both are present Tested is used as-is.
type RayQueryInput struct {
	Rays   *neus.Rays
	Tested *neus.TestedRays
}

// Details are diagnostic outputs of one ray query.
type Details struct {
	// InvS and S are the sharpness used for alpha estimation and its
	// reciprocal scale.
	InvS float64
	S    float64
	// Accel holds acceleration structure debug statistics, when available.
	Accel map[string]float64
	// Query holds per-strategy counters.
	Query map[string]float64
	// NearSDF is the SDF probed at each tested ray's near boundary,
	// parallel to the tested ray set. Only with Config.WithNearSDF.
	NearSDF []float64
}

// RayQueryResult is the output of one ray query.
type RayQueryResult struct {
	// Buffer is the queried volume buffer. Kind is KindEmpty when no rays
	// were tested or hit.
	Buffer *Buffer
	// Details is set when requested.
	Details *Details
	// Rendered is the per-object composited output over the original ray
	// batch. Set when requested and Rays was provided.
	Rendered *Rendered
}

// RayQueryOutputs selects the optional outputs of RayQuery.
type RayQueryOutputs struct {
	ReturnDetails bool
	RenderPerObj  bool
}

// RayQuery runs one full query: resolve tested rays, short-circuit on zero
// work, dispatch the configured sampler strategy, and optionally composite
// per-object outputs and attach diagnostics.
func (rn *Renderer) RayQuery(in RayQueryInput, cfg Config, outs RayQueryOutputs) (*RayQueryResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tested := in.Tested
	if tested == nil {
		if in.Rays == nil {
			return nil, errors.New("render: ray query needs rays or a tested ray set")
		}
		var err error
		tested, err = rn.space.RayTest(in.Rays)
		if err != nil {
			return nil, err
		}
	}

	fwdInvS := cfg.ForwardInvS
	if fwdInvS == 0 {
		fwdInvS = rn.invS.InvS(rn.it)
	}

	res := &RayQueryResult{Buffer: &Buffer{Kind: KindEmpty}}
	if outs.ReturnDetails {
		res.Details = &Details{InvS: fwdInvS, S: 1 / fwdInvS}
		if rn.accel != nil {
			res.Details.Accel = rn.accel.DebugStats()
		}
	}
	numTotal := tested.NumTotal
	if numTotal == 0 && in.Rays != nil {
		numTotal = in.Rays.Len()
	}
	if outs.RenderPerObj {
		res.Rendered = NewRendered(numTotal, cfg.WithRGB, cfg.WithNormal)
	}
	if tested.Len() == 0 {
		return res, nil
	}

	var (
		buf     *Buffer
		details map[string]float64
		err     error
	)
	switch cfg.Mode {
	case ModeCoarseMultiUpsample:
		buf, details, err = rn.queryCoarseMultiUpsample(tested, cfg, fwdInvS)
	case ModeMarchOccMultiUpsample:
		buf, details, err = rn.queryMarchOccMultiUpsample(tested, cfg, fwdInvS, false)
	case ModeMarchOccMultiUpsampleCompressed:
		buf, details, err = rn.queryMarchOccMultiUpsample(tested, cfg, fwdInvS, true)
	case ModeSphereTrace:
		buf, details, err = rn.querySphereTrace(tested, cfg)
	default:
		// Validate rejected everything else already.
		err = fmt.Errorf("%w: %v", ErrUnsupportedMode, cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	res.Buffer = buf

	if outs.ReturnDetails {
		res.Details.Query = details
		if cfg.WithNearSDF {
			pts := make([]r3.Vec, tested.Len())
			for i := range pts {
				pts[i] = tested.At(i, tested.Near[i])
			}
			nearSDF := make([]float64, len(pts))
			rn.forwardSDF(pts, nearSDF, false)
			res.Details.NearSDF = nearSDF
		}
	}
	if outs.RenderPerObj && buf.Kind != KindEmpty {
		Composite(buf, res.Rendered, CompositeOptions{
			DepthUseNormalizedVW: cfg.DepthUseNormalizedVW,
			Training:             rn.training,
		})
	}
	return res, nil
}
