package render

import "math"

// InvSSchedule supplies the global sharpness parameter inv_s for a training
// iteration. Sharpness is typically annealed upward so alpha tightens
// around the surface as training converges.
type InvSSchedule interface {
	InvS(it int) float64
}

// ConstInvS is a fixed sharpness, useful for inference and tests.
type ConstInvS float64

func (c ConstInvS) InvS(int) float64 { return float64(c) }

// LinearInvS interpolates sharpness from Start to Stop over Until
// iterations, then holds Stop.
type LinearInvS struct {
	Start, Stop float64
	Until       int
}

func (l LinearInvS) InvS(it int) float64 {
	if l.Until <= 0 || it >= l.Until {
		return l.Stop
	}
	if it < 0 {
		it = 0
	}
	frac := float64(it) / float64(l.Until)
	return l.Start + (l.Stop-l.Start)*frac
}

// LogInvS interpolates sharpness geometrically from Start to Stop over Until
// iterations, then holds Stop. Both endpoints must be positive. Geometric
// growth spends more iterations at low sharpness, where the opacity estimate
// is still soft.
type LogInvS struct {
	Start, Stop float64
	Until       int
}

func (l LogInvS) InvS(it int) float64 {
	if l.Until <= 0 || it >= l.Until {
		return l.Stop
	}
	if it < 0 {
		it = 0
	}
	frac := float64(it) / float64(l.Until)
	return l.Start * math.Pow(l.Stop/l.Start, frac)
}
