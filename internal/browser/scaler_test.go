// internal/browser/scaler_test.go
package browser

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

func TestScalerSmallViewportIsIdentity(t *testing.T) {
	s := NewScaler(1024, 768)
	assert.Equal(t, 1.0, s.Factor(), "1024x768 fits both ceilings")

	p := schemas.Point{X: 512, Y: 384}
	assert.Equal(t, p, s.ToViewport(p))
	assert.Equal(t, p, s.ToModel(p))
}

func TestScalerLongEdgeCeiling(t *testing.T) {
	// 1600x700 = 1.12M pixels (under the area ceiling) but the long edge
	// exceeds 1568.
	s := NewScaler(1600, 700)
	assert.InDelta(t, 1568.0/1600.0, s.Factor(), 1e-9)

	w, h := s.ModelSize()
	assert.Equal(t, 1568, w)
	assert.LessOrEqual(t, h, 700)
}

func TestScalerAreaCeiling(t *testing.T) {
	s := NewScaler(1280, 1024) // 1.31M pixels, long edge fine
	expected := math.Sqrt(1_150_000.0 / (1280.0 * 1024.0))
	assert.InDelta(t, expected, s.Factor(), 1e-9)

	w, h := s.ModelSize()
	assert.LessOrEqual(t, w*h, maxTotalPixels+w+h, "scaled area stays near the ceiling")
}

func TestScalerNeverUpscales(t *testing.T) {
	s := NewScaler(640, 480)
	assert.Equal(t, 1.0, s.Factor())
}

func TestScalerRoundTripWithinOnePixel(t *testing.T) {
	s := NewScaler(1920, 1080)
	for _, p := range []schemas.Point{
		{X: 0, Y: 0},
		{X: 960, Y: 540},
		{X: 1919, Y: 1079},
		{X: 17, Y: 1033},
	} {
		got := s.ToViewport(s.ToModel(p))
		assert.InDelta(t, p.X, got.X, 1.01, "x round trip for %+v", p)
		assert.InDelta(t, p.Y, got.Y, 1.01, "y round trip for %+v", p)
	}
}

func TestScalerClampsOutOfBounds(t *testing.T) {
	s := NewScaler(1280, 800)
	got := s.ToViewport(schemas.Point{X: 99999, Y: -50})
	assert.Equal(t, 1279, got.X)
	assert.Equal(t, 0, got.Y)
}

func TestScalerZeroViewport(t *testing.T) {
	s := NewScaler(0, 0)
	assert.Equal(t, 1.0, s.Factor())
}

func TestScalerZeroViewportPassesCoordinatesThrough(t *testing.T) {
	s := NewScaler(0, 0)
	for _, p := range []schemas.Point{
		{X: 100, Y: 200},
		{X: 0, Y: 0},
		{X: 3000, Y: 1700},
	} {
		assert.Equal(t, p, s.ToViewport(p), "ToViewport %+v", p)
		assert.Equal(t, p, s.ToModel(p), "ToModel %+v", p)
	}
}
