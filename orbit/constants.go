package orbit

import "math"

// WGS-72 constants used by the SGP4 near-earth model.
const (
	XKMPER     = 6378.135 // equatorial radius, km
	AE         = 1.0      // distance units per earth radius
	GE         = 398600.8 // gravitational parameter, km^3/s^2
	XJ2        = 1.082616e-3
	XJ3        = -2.53881e-6
	XJ4        = -1.65597e-6
	CK2        = 0.5 * XJ2 * AE * AE
	CK4        = -0.375 * XJ4 * AE * AE * AE * AE
	QO         = 120.0 // km
	S0         = 78.0  // km
	GeosyncAlt = 42241.892

	MinPerDay = 1440.0
	SecPerDay = 86400.0

	e6a     = 1.0e-6
	twoThrd = 2.0 / 3.0
	twoPi   = 2 * math.Pi

	keplerMaxIter = 10

	// DeepSpacePeriodMin is the orbital period above which SGP4 is no
	// longer the appropriate model.
	DeepSpacePeriodMin = 225.0
)

var (
	// XKE is sqrt(GM) in earth radii^1.5 per minute.
	XKE    = math.Sqrt(3600.0 * GE / (XKMPER * XKMPER * XKMPER))
	QOMS2T = math.Pow((QO-S0)/XKMPER, 4)
	SV     = AE * (1.0 + S0/XKMPER)
)

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }

// fmod2p reduces an angle to [0, 2π).
func fmod2p(x float64) float64 {
	r := math.Mod(x, twoPi)
	if r < 0 {
		r += twoPi
	}
	return r
}

// acTan returns atan2(sin, cos) in [0, 2π).
func acTan(sinx, cosx float64) float64 {
	return fmod2p(math.Atan2(sinx, cosx))
}
