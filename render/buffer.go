// Package render implements the ray-query engine for neural implicit
// surfaces: sampler strategies (uniform with importance upsampling,
// occupancy guided marching, sphere tracing), conversion of boundary SDF
// values into per-interval opacity, and alpha compositing of sample buffers
// into per-ray depth, mask, color and normal outputs.
package render

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// BufferKind discriminates the sample storage layout of a Buffer.
type BufferKind uint8

const (
	// KindEmpty marks a buffer with zero hit rays. Empty buffers carry no
	// sample storage at all, so shape ambiguity cannot arise downstream.
	KindEmpty BufferKind = iota
	// KindBatched stores a fixed number of samples per hit ray, row major.
	KindBatched
	// KindPacked stores a variable number of samples per hit ray in flat
	// arrays indexed through PackInfos.
	KindPacked
)

func (k BufferKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindBatched:
		return "batched"
	case KindPacked:
		return "packed"
	}
	return fmt.Sprintf("BufferKind(%d)", uint8(k))
}

// PackInfo locates one ray's samples within a packed buffer's flat arrays.
type PackInfo struct {
	Offset int
	Count  int
}

// Buffer holds all samples produced for a batch of rays by one ray query.
// Samples within a ray are stored in ascending depth order. Buffers live for
// a single ray-query call and are discarded afterwards.
type Buffer struct {
	Kind BufferKind
	// RaysIndsHit are indices into the original ray batch of rays that
	// produced at least one sample.
	RaysIndsHit []int
	// NumPerRay is the fixed per-ray sample count. Batched only.
	NumPerRay int
	// PackInfos locates each hit ray's samples. Packed only.
	PackInfos []PackInfo

	// Per-sample values. T is the real depth along the ray, SDF the signed
	// distance at the interval midpoint, Alpha the interval opacity.
	T     []float64
	SDF   []float64
	Alpha []float64
	// VW is filled in by the compositor (alpha times accumulated
	// transmittance).
	VW []float64
	// Optional per-sample shading values.
	RGB     []r3.Vec
	Normals []r3.Vec
}

// NumSamples returns the total sample count across all hit rays.
func (b *Buffer) NumSamples() int {
	switch b.Kind {
	case KindBatched:
		return len(b.RaysIndsHit) * b.NumPerRay
	case KindPacked:
		return len(b.T)
	}
	return 0
}

// raySpan returns the [start,start+count) index range of hit ray i's samples
// in the flat per-sample arrays, valid for both layouts.
func (b *Buffer) raySpan(i int) (start, count int) {
	if b.Kind == KindBatched {
		return i * b.NumPerRay, b.NumPerRay
	}
	pi := b.PackInfos[i]
	return pi.Offset, pi.Count
}

var (
	errBufferShape    = errors.New("render: buffer per-sample array length mismatch")
	errPackInfoShape  = errors.New("render: pack infos do not tile the sample array")
	errHitIndsNotSet  = errors.New("render: duplicate or unsorted rays_inds_hit")
	errBufferNoLayout = errors.New("render: buffer kind carries no layout")
)

// Validate checks the structural invariants of the buffer: consistent
// per-sample array lengths, monotone non-decreasing pack offsets with
// offset+count within bounds, and strictly increasing hit indices.
func (b *Buffer) Validate() error {
	switch b.Kind {
	case KindEmpty:
		if len(b.RaysIndsHit) != 0 || len(b.T) != 0 {
			return errors.New("render: empty buffer carries samples")
		}
		return nil
	case KindBatched:
		if b.NumPerRay <= 0 {
			return errors.New("render: batched buffer needs NumPerRay > 0")
		}
	case KindPacked:
		if len(b.PackInfos) != len(b.RaysIndsHit) {
			return errors.New("render: pack info count does not match hit ray count")
		}
		off := 0
		for _, pi := range b.PackInfos {
			if pi.Offset < off || pi.Count < 0 || pi.Offset+pi.Count > len(b.T) {
				return errPackInfoShape
			}
			off = pi.Offset
		}
	default:
		return errBufferNoLayout
	}
	n := b.NumSamples()
	if len(b.T) != n || len(b.SDF) != n && b.SDF != nil ||
		len(b.Alpha) != n && b.Alpha != nil ||
		b.RGB != nil && len(b.RGB) != n ||
		b.Normals != nil && len(b.Normals) != n {
		return errBufferShape
	}
	for i := 1; i < len(b.RaysIndsHit); i++ {
		if b.RaysIndsHit[i] <= b.RaysIndsHit[i-1] {
			return errHitIndsNotSet
		}
	}
	return nil
}
