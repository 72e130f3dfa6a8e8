package model

// Geodetic is a position on or above the reference ellipsoid.
type Geodetic struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeKm   float64
}

// Vector3 is a cartesian vector in kilometres (or km/s for velocities).
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

// Position is the instantaneous state of a node. It is always replaced as
// a whole; Valid is false until the first successful propagation.
type Position struct {
	Geodetic Geodetic

	// ECI and VelocityECI are zero for ground stations.
	ECI         Vector3
	VelocityECI Vector3

	JulianDate float64
	Valid      bool
}
