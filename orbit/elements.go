package orbit

import (
	"fmt"
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// ConstellationConfig describes a plane/slot grid of identical orbits.
type ConstellationConfig struct {
	Planes       int
	SatsPerPlane int

	AltitudeKm     float64
	InclinationDeg float64
	Eccentricity   float64
	ArgPerigeeDeg  float64
	BStar          float64
	Drag           float64

	// EpochYear accepts two-digit years (<57 means 20xx) or full years.
	EpochYear int
	EpochDay  float64
}

// Elements is the immutable Keplerian element set of one satellite.
type Elements struct {
	EpochYear int
	EpochDay  float64

	Eccentricity   float64
	InclinationDeg float64
	RAANDeg        float64
	ArgPerigeeDeg  float64
	MeanAnomalyDeg float64
	BStar          float64
	Drag           float64
	AltitudeKm     float64

	// MeanMotion is in revolutions per day, derived from AltitudeKm.
	MeanMotion float64
}

// NewElements derives the element set for the satellite at (plane, slot).
// RAAN is spread evenly across planes and mean anomaly across slots.
func NewElements(cfg ConstellationConfig, plane, slot int) (Elements, error) {
	if cfg.Planes <= 0 || cfg.SatsPerPlane <= 0 {
		return Elements{}, fmt.Errorf("%w: planes=%d satsPerPlane=%d", ErrInvalidElements, cfg.Planes, cfg.SatsPerPlane)
	}
	if plane < 0 || plane >= cfg.Planes || slot < 0 || slot >= cfg.SatsPerPlane {
		return Elements{}, fmt.Errorf("%w: slot (%d,%d) outside %dx%d grid", ErrInvalidElements, plane, slot, cfg.Planes, cfg.SatsPerPlane)
	}
	el := Elements{
		EpochYear:      normalizeEpochYear(cfg.EpochYear),
		EpochDay:       cfg.EpochDay,
		Eccentricity:   cfg.Eccentricity,
		InclinationDeg: cfg.InclinationDeg,
		RAANDeg:        (360.0 / float64(cfg.Planes)) * float64(plane),
		ArgPerigeeDeg:  cfg.ArgPerigeeDeg,
		MeanAnomalyDeg: (360.0 / float64(cfg.SatsPerPlane)) * float64(slot),
		BStar:          cfg.BStar,
		Drag:           cfg.Drag,
		AltitudeKm:     cfg.AltitudeKm,
	}
	if err := el.Validate(); err != nil {
		return Elements{}, err
	}
	el.MeanMotion = MeanMotionFromAltitude(el.AltitudeKm)
	return el, nil
}

// Validate checks the ranges SGP4 can work with.
func (el Elements) Validate() error {
	switch {
	case el.Eccentricity < 0 || el.Eccentricity >= 1 || math.IsNaN(el.Eccentricity):
		return fmt.Errorf("%w: eccentricity %v not in [0,1)", ErrInvalidElements, el.Eccentricity)
	case el.AltitudeKm <= 0 || math.IsNaN(el.AltitudeKm):
		return fmt.Errorf("%w: altitude %v km", ErrInvalidElements, el.AltitudeKm)
	case el.InclinationDeg < 0 || el.InclinationDeg > 180:
		return fmt.Errorf("%w: inclination %v deg", ErrInvalidElements, el.InclinationDeg)
	case el.EpochDay < 1 || el.EpochDay >= 367:
		return fmt.Errorf("%w: epoch day %v", ErrInvalidElements, el.EpochDay)
	}
	return nil
}

// MeanMotionFromAltitude returns revolutions per day of a circular orbit.
func MeanMotionFromAltitude(altKm float64) float64 {
	r := XKMPER + altKm
	velocity := math.Sqrt(GE / r)
	periodSec := (twoPi * r) / velocity
	return SecPerDay / periodSec
}

// EpochJD is the julian date of the element epoch.
func (el Elements) EpochJD() float64 {
	return julian.CalendarGregorianToJD(el.EpochYear, 1, 0) + el.EpochDay
}

// EpochTime is the element epoch in UTC.
func (el Elements) EpochTime() time.Time {
	return julian.JDToTime(el.EpochJD()).UTC()
}

func normalizeEpochYear(y int) int {
	switch {
	case y >= 100:
		return y
	case y < 57:
		return y + 2000
	default:
		return y + 1900
	}
}
