package render_test

import (
	"math"
	"testing"

	"github.com/soypat/neus/render"
)

func TestPackedSum(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	packs := []render.PackInfo{{0, 3}, {3, 0}, {3, 2}}
	dst := make([]float64, 3)
	render.PackedSum(vals, packs, dst)
	want := []float64{6, 0, 9}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sum[%d] = %g, want %g", i, dst[i], want[i])
		}
	}
}

func TestPackedDiv(t *testing.T) {
	vals := []float64{2, 4, 6, 10}
	packs := []render.PackInfo{{0, 3}, {3, 1}}
	dst := make([]float64, 4)
	render.PackedDiv(vals, []float64{2, 5}, packs, dst)
	want := []float64{1, 2, 3, 2}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("div[%d] = %g, want %g", i, dst[i], want[i])
		}
	}
}

func TestPackedAlphaToVW(t *testing.T) {
	alpha := []float64{0.5, 0.5, 0.5, 1, 0.25}
	packs := []render.PackInfo{{0, 3}, {3, 1}, {4, 1}}
	vw := make([]float64, 5)
	render.PackedAlphaToVW(alpha, packs, vw)
	want := []float64{0.5, 0.25, 0.125, 1, 0.25}
	for i := range want {
		if math.Abs(vw[i]-want[i]) > 1e-15 {
			t.Errorf("vw[%d] = %g, want %g", i, vw[i], want[i])
		}
	}
	// The recurrence restarts at each ray: transmittance must not leak
	// from ray 0 into ray 1.
	if vw[3] != 1 {
		t.Errorf("transmittance leaked across rays: vw[3] = %g", vw[3])
	}
}

func TestRayAlphaToVWMatchesPacked(t *testing.T) {
	alpha := []float64{0.1, 0.9, 0.3, 0.2, 0.8, 0.5}
	batched := make([]float64, 6)
	render.RayAlphaToVW(alpha, 3, batched)
	packed := make([]float64, 6)
	render.PackedAlphaToVW(alpha, []render.PackInfo{{0, 3}, {3, 3}}, packed)
	for i := range batched {
		if batched[i] != packed[i] {
			t.Errorf("layouts disagree at %d: %g vs %g", i, batched[i], packed[i])
		}
	}
}

func TestBufferValidatePackInfos(t *testing.T) {
	buf := &render.Buffer{
		Kind:        render.KindPacked,
		RaysIndsHit: []int{0, 2, 5},
		PackInfos:   []render.PackInfo{{0, 3}, {3, 0}, {3, 2}},
		T:           []float64{1, 2, 3, 4, 5},
	}
	if err := buf.Validate(); err != nil {
		t.Fatalf("valid packed buffer rejected: %v", err)
	}
	// Out of bounds count.
	buf.PackInfos[2].Count = 4
	if err := buf.Validate(); err == nil {
		t.Error("offset+count beyond sample array must be rejected")
	}
	buf.PackInfos[2].Count = 2
	// Decreasing offsets.
	buf.PackInfos[1].Offset = 4
	if err := buf.Validate(); err == nil {
		t.Error("non-monotone pack offsets must be rejected")
	}
	buf.PackInfos[1].Offset = 3
	// Duplicate hit indices.
	buf.RaysIndsHit[1] = 0
	if err := buf.Validate(); err == nil {
		t.Error("duplicate rays_inds_hit must be rejected")
	}
}

func TestBufferValidateEmpty(t *testing.T) {
	buf := &render.Buffer{Kind: render.KindEmpty}
	if err := buf.Validate(); err != nil {
		t.Fatalf("empty buffer rejected: %v", err)
	}
	buf.T = []float64{1}
	if err := buf.Validate(); err == nil {
		t.Error("empty buffer with samples must be rejected")
	}
}
