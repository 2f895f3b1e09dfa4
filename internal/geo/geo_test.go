package geo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolygonContainsWithHole(t *testing.T) {
	poly := NewPolygon(Rect(0, 0, 10, 10), Rect(4, 4, 6, 6))
	require.True(t, poly.Contains(Point{Lat: 1, Lon: 1}))
	require.False(t, poly.Contains(Point{Lat: 5, Lon: 5}))
	require.False(t, poly.Contains(Point{Lat: 11, Lon: 1}))
	require.False(t, Polygon{}.Contains(Point{}))
}

func TestConcaveShell(t *testing.T) {
	// L shape: the notch at the top right is outside
	shell := []Point{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 10}, {Lat: 5, Lon: 10},
		{Lat: 5, Lon: 5}, {Lat: 10, Lon: 5}, {Lat: 10, Lon: 0},
	}
	poly := NewPolygon(shell)
	require.True(t, poly.Contains(Point{Lat: 2, Lon: 8}))
	require.True(t, poly.Contains(Point{Lat: 8, Lon: 2}))
	require.False(t, poly.Contains(Point{Lat: 8, Lon: 8}))
}

func TestMultiPolygon(t *testing.T) {
	m := MultiPolygon{NewPolygon(Rect(0, 0, 1, 1)), NewPolygon(Rect(5, 5, 6, 6))}
	require.True(t, m.Contains(Point{Lat: 5.5, Lon: 5.5}))
	require.False(t, m.Contains(Point{Lat: 3, Lon: 3}))
}

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope("40.49, -79.77, 45.02, -71.78")
	require.NoError(t, err)
	require.True(t, env.Contains(Point{Lat: 40.7484, Lon: -73.9857}))
	require.False(t, env.Contains(Point{Lat: 39.95, Lon: -75.16}))

	_, err = ParseEnvelope("1,2,3")
	require.True(t, errors.Is(err, ErrInvalidEnvelope))
	_, err = ParseEnvelope("5,0,1,1")
	require.True(t, errors.Is(err, ErrInvalidEnvelope))
}
