package geo_test

import (
	"testing"

	"github.com/marinahub/sentinel/pkg/geo"
	"github.com/stretchr/testify/assert"
)

func TestDistance_KnownCities(t *testing.T) {
	// London -> Paris, roughly 344 km
	d := geo.Distance(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, d, 5)

	// New York -> Los Angeles, roughly 3936 km
	d = geo.Distance(40.7128, -74.0060, 34.0522, -118.2437)
	assert.InDelta(t, 3936, d, 20)
}

func TestDistance_SamePoint(t *testing.T) {
	d := geo.Distance(52.52, 13.405, 52.52, 13.405)
	assert.Equal(t, 0.0, d)
}

func TestDistance_Symmetric(t *testing.T) {
	a := geo.Distance(35.6762, 139.6503, -33.8688, 151.2093)
	b := geo.Distance(-33.8688, 151.2093, 35.6762, 139.6503)
	assert.InDelta(t, a, b, 1e-9)
}
