package render_test

import (
	"bytes"
	"image"
	"image/png"
	"math"
	"math/rand"
	"testing"

	"github.com/soypat/neus/render"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/cmpimg"
)

// makeEquivalentBuffers builds the same sample set in both storage layouts.
func makeEquivalentBuffers(nRays, perRay int, rng *rand.Rand) (batched, packed *render.Buffer) {
	n := nRays * perRay
	t := make([]float64, n)
	alpha := make([]float64, n)
	rgb := make([]r3.Vec, n)
	normals := make([]r3.Vec, n)
	inds := make([]int, nRays)
	packs := make([]render.PackInfo, nRays)
	for i := 0; i < nRays; i++ {
		inds[i] = i
		packs[i] = render.PackInfo{Offset: i * perRay, Count: perRay}
		for j := 0; j < perRay; j++ {
			k := i*perRay + j
			t[k] = float64(j) + rng.Float64()
			alpha[k] = rng.Float64()
			rgb[k] = r3.Vec{X: rng.Float64(), Y: rng.Float64(), Z: rng.Float64()}
			normals[k] = r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		}
	}
	batched = &render.Buffer{
		Kind: render.KindBatched, RaysIndsHit: inds, NumPerRay: perRay,
		T: t, Alpha: alpha, RGB: rgb, Normals: normals,
	}
	packed = &render.Buffer{
		Kind:        render.KindPacked,
		RaysIndsHit: append([]int(nil), inds...),
		PackInfos:   packs,
		T:           append([]float64(nil), t...),
		Alpha:       append([]float64(nil), alpha...),
		RGB:         append([]r3.Vec(nil), rgb...),
		Normals:     append([]r3.Vec(nil), normals...),
	}
	return batched, packed
}

func TestCompositeLayoutEquivalence(t *testing.T) {
	const tol = 1e-12
	rng := rand.New(rand.NewSource(7))
	for _, opt := range []render.CompositeOptions{
		{DepthUseNormalizedVW: true},
		{DepthUseNormalizedVW: false},
		{DepthUseNormalizedVW: true, Training: true},
	} {
		batched, packed := makeEquivalentBuffers(37, 5, rng)
		outB := render.NewRendered(40, true, true)
		outP := render.NewRendered(40, true, true)
		render.Composite(batched, outB, opt)
		render.Composite(packed, outP, opt)
		for i := 0; i < 40; i++ {
			if math.Abs(outB.Mask[i]-outP.Mask[i]) > tol {
				t.Errorf("opt %+v: mask[%d] %g != %g", opt, i, outB.Mask[i], outP.Mask[i])
			}
			if math.Abs(outB.Depth[i]-outP.Depth[i]) > tol {
				t.Errorf("opt %+v: depth[%d] %g != %g", opt, i, outB.Depth[i], outP.Depth[i])
			}
			if d := r3.Norm(r3.Sub(outB.RGB[i], outP.RGB[i])); d > tol {
				t.Errorf("opt %+v: rgb[%d] differs by %g", opt, i, d)
			}
			if d := r3.Norm(r3.Sub(outB.Normals[i], outP.Normals[i])); d > tol {
				t.Errorf("opt %+v: normals[%d] differs by %g", opt, i, d)
			}
		}
	}
}

// The dual-layout property again, this time at image level: the mask images
// produced from either layout must be pixel-identical.
func TestCompositeLayoutEquivalenceImage(t *testing.T) {
	const side = 16
	rng := rand.New(rand.NewSource(3))
	batched, packed := makeEquivalentBuffers(side*side, 6, rng)
	toPNG := func(buf *render.Buffer) []byte {
		out := render.NewRendered(side*side, false, false)
		render.Composite(buf, out, render.CompositeOptions{DepthUseNormalizedVW: true})
		img := image.NewGray(image.Rect(0, 0, side, side))
		for i, m := range out.Mask {
			img.Pix[i] = uint8(255 * math.Min(m, 1))
		}
		var b bytes.Buffer
		if err := png.Encode(&b, img); err != nil {
			t.Fatal(err)
		}
		return b.Bytes()
	}
	eq, err := cmpimg.Equal("png", toPNG(batched), toPNG(packed))
	if err != nil {
		t.Fatal(err)
	}
	if !eq {
		t.Error("batched and packed mask images differ")
	}
}

func TestCompositeNormalizedDepthWeights(t *testing.T) {
	// With normalization the depth reduction is a convex combination of
	// sample depths for any ray whose weight sum clears the epsilon floor,
	// so depth of constant-t samples equals that t exactly.
	buf := &render.Buffer{
		Kind: render.KindBatched, RaysIndsHit: []int{0}, NumPerRay: 3,
		T: []float64{2, 2, 2}, Alpha: []float64{0.3, 0.3, 0.3},
	}
	out := render.NewRendered(1, false, false)
	render.Composite(buf, out, render.CompositeOptions{DepthUseNormalizedVW: true})
	if math.Abs(out.Depth[0]-2) > 1e-9 {
		t.Errorf("normalized depth = %g, want 2", out.Depth[0])
	}
	if out.Mask[0] <= 0 || out.Mask[0] >= 1 {
		t.Errorf("mask = %g, want within (0,1)", out.Mask[0])
	}
}

func TestCompositeZeroSampleRay(t *testing.T) {
	// Pack infos [(0,3),(3,0),(3,2)] over 5 samples: the zero-sample ray
	// keeps the zero background in every output.
	buf := &render.Buffer{
		Kind:        render.KindPacked,
		RaysIndsHit: []int{0, 1, 2},
		PackInfos:   []render.PackInfo{{0, 3}, {3, 0}, {3, 2}},
		T:           []float64{1, 2, 3, 4, 5},
		Alpha:       []float64{0.5, 0.5, 0.5, 0.5, 0.5},
	}
	if err := buf.Validate(); err != nil {
		t.Fatal(err)
	}
	out := render.NewRendered(3, false, false)
	render.Composite(buf, out, render.CompositeOptions{DepthUseNormalizedVW: true})
	if out.Mask[1] != 0 || out.Depth[1] != 0 {
		t.Errorf("zero-sample ray polluted: mask=%g depth=%g", out.Mask[1], out.Depth[1])
	}
	if out.Mask[0] == 0 || out.Mask[2] == 0 {
		t.Error("rays with samples should have accumulated opacity")
	}
}

func TestCompositeScattersOnlyHitRays(t *testing.T) {
	buf := &render.Buffer{
		Kind: render.KindBatched, RaysIndsHit: []int{2, 5}, NumPerRay: 2,
		T: []float64{1, 2, 3, 4}, Alpha: []float64{0.5, 0.5, 0.5, 0.5},
	}
	out := render.NewRendered(8, false, false)
	render.Composite(buf, out, render.CompositeOptions{DepthUseNormalizedVW: true})
	for i := 0; i < 8; i++ {
		hit := i == 2 || i == 5
		if hit && out.Mask[i] == 0 {
			t.Errorf("hit ray %d has zero mask", i)
		}
		if !hit && (out.Mask[i] != 0 || out.Depth[i] != 0) {
			t.Errorf("miss ray %d was written to", i)
		}
	}
}

func TestCompositeEnergyConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	batched, _ := makeEquivalentBuffers(50, 8, rng)
	out := render.NewRendered(50, false, false)
	render.Composite(batched, out, render.CompositeOptions{})
	for i, m := range out.Mask {
		if m < 0 || m > 1+1e-12 {
			t.Errorf("mask[%d] = %g violates energy conservation", i, m)
		}
	}
}
