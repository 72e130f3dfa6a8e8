package core

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/leo-router/model"
)

// Reference ellipsoid used for ECEF conversion (WGS-72 semi-major axis).
const (
	EarthSemiMajorM = 6378135.0
	EarthE2         = 6.6943799901377997e-3

	// SpeedOfLight in vacuum, m/s.
	SpeedOfLight = 299792458.0
)

// Vec3 is an ECEF vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) slice() []float64 { return []float64{v.X, v.Y, v.Z} }

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return floats.Distance(v.slice(), other.slice(), 2)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return floats.Norm(v.slice(), 2)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return floats.Dot(v.slice(), other.slice())
}

// GeodeticToECEF converts latitude/longitude in degrees and altitude in
// kilometres to ECEF metres.
func GeodeticToECEF(g model.Geodetic) Vec3 {
	lat := g.LatitudeDeg * math.Pi / 180.0
	lon := g.LongitudeDeg * math.Pi / 180.0
	h := g.AltitudeKm * 1000.0

	sinLat := math.Sin(lat)
	n := EarthSemiMajorM / math.Sqrt(1.0-EarthE2*sinLat*sinLat)
	cosLat := math.Cos(lat)
	return Vec3{
		X: (n + h) * cosLat * math.Cos(lon),
		Y: (n + h) * cosLat * math.Sin(lon),
		Z: (n*(1.0-EarthE2) + h) * sinLat,
	}
}

// Distance returns the straight-line distance in metres between two
// geodetic positions.
func Distance(a, b model.Geodetic) float64 {
	return GeodeticToECEF(a).DistanceTo(GeodeticToECEF(b))
}

// PropagationDelay returns the one-way light travel time over distanceM,
// in seconds.
func PropagationDelay(distanceM float64) float64 {
	return distanceM / SpeedOfLight
}

// LookAngle is the topocentric direction of a target seen from an observer.
type LookAngle struct {
	AzimuthDeg   float64
	ElevationDeg float64
	RangeM       float64
}

// LookAngles computes azimuth, elevation and slant range of target as
// seen from observer, using the observer's south-east-zenith frame.
func LookAngles(observer, target model.Geodetic) LookAngle {
	return lookAngles(observer, GeodeticToECEF(observer), GeodeticToECEF(target))
}

// lookAngles is LookAngles with both ECEF positions precomputed.
func lookAngles(observer model.Geodetic, o, t Vec3) LookAngle {
	d := t.Sub(o)
	rng := o.DistanceTo(t)
	if rng == 0 {
		return LookAngle{ElevationDeg: 90}
	}

	lat := observer.LatitudeDeg * math.Pi / 180.0
	lon := observer.LongitudeDeg * math.Pi / 180.0
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	rot := mat.NewDense(3, 3, []float64{
		sinLat * cosLon, sinLat * sinLon, -cosLat,
		-sinLon, cosLon, 0,
		cosLat * cosLon, cosLat * sinLon, sinLat,
	})
	var sez mat.VecDense
	sez.MulVec(rot, mat.NewVecDense(3, d.slice()))
	s, e, z := sez.AtVec(0), sez.AtVec(1), sez.AtVec(2)

	el := math.Asin(math.Max(-1, math.Min(1, z/rng)))
	az := math.Atan2(e, -s)
	if az < 0 {
		az += 2 * math.Pi
	}
	return LookAngle{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: el * 180.0 / math.Pi,
		RangeM:       rng,
	}
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target model.Geodetic) float64 {
	return LookAngles(observer, target).ElevationDeg
}
