// internal/browser/scaler.go
package browser

import (
	"math"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Vision models degrade past a certain image size, so screenshots are
// downscaled before being sent and coordinates coming back are mapped to
// the real viewport. The factor respects two ceilings at once: no edge
// longer than maxLongEdge, and no more than maxTotalPixels overall.
const (
	maxLongEdge    = 1568
	maxTotalPixels = 1_150_000
)

// Scaler converts between viewport coordinates and model (scaled
// screenshot) coordinates for a fixed viewport size. The zero viewport
// yields an identity scaler.
type Scaler struct {
	viewportW int
	viewportH int
	factor    float64
}

// NewScaler computes the scale factor for a viewport. The factor is always
// in (0, 1]: images are never upscaled.
func NewScaler(viewportW, viewportH int) *Scaler {
	s := &Scaler{viewportW: viewportW, viewportH: viewportH, factor: 1.0}
	if viewportW <= 0 || viewportH <= 0 {
		return s
	}

	longEdge := viewportW
	if viewportH > longEdge {
		longEdge = viewportH
	}

	factor := 1.0
	if byEdge := float64(maxLongEdge) / float64(longEdge); byEdge < factor {
		factor = byEdge
	}
	totalPixels := float64(viewportW) * float64(viewportH)
	if byArea := math.Sqrt(float64(maxTotalPixels) / totalPixels); byArea < factor {
		factor = byArea
	}
	s.factor = factor
	return s
}

// Factor returns the viewport-to-model scale factor.
func (s *Scaler) Factor() float64 { return s.factor }

// ModelSize returns the dimensions of the scaled screenshot.
func (s *Scaler) ModelSize() (w, h int) {
	return int(math.Round(float64(s.viewportW) * s.factor)),
		int(math.Round(float64(s.viewportH) * s.factor))
}

// ToViewport maps a model-space point onto the real viewport, clamping to
// the viewport bounds. The identity scaler has no bounds to clamp to and
// passes points through unchanged.
func (s *Scaler) ToViewport(p schemas.Point) schemas.Point {
	x := int(math.Round(float64(p.X) / s.factor))
	y := int(math.Round(float64(p.Y) / s.factor))
	if s.viewportW <= 0 || s.viewportH <= 0 {
		return schemas.Point{X: x, Y: y}
	}
	return schemas.Point{
		X: clamp(x, 0, s.viewportW-1),
		Y: clamp(y, 0, s.viewportH-1),
	}
}

// ToModel maps a viewport point into model space.
func (s *Scaler) ToModel(p schemas.Point) schemas.Point {
	if s.viewportW <= 0 || s.viewportH <= 0 {
		return p
	}
	mw, mh := s.ModelSize()
	x := int(math.Round(float64(p.X) * s.factor))
	y := int(math.Round(float64(p.Y) * s.factor))
	return schemas.Point{
		X: clamp(x, 0, mw-1),
		Y: clamp(y, 0, mh-1),
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
