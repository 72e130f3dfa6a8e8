package orbit

import (
	"fmt"
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"github.com/soniakeys/meeus/v3/julian"

	"github.com/signalsfoundry/leo-router/model"
)

// StateVector is an ECI position (km) and velocity (km/s).
type StateVector struct {
	Position model.Vector3
	Velocity model.Vector3
}

// Propagator yields the position of a node at an absolute time.
type Propagator interface {
	PositionAt(t time.Time) (model.Position, error)
}

// SGP4 is the near-earth simplified general perturbations propagator
// for one element set. Everything that depends only on the elements is
// computed once in NewSGP4; Propagate never mutates the receiver.
type SGP4 struct {
	el Elements

	start   time.Time
	gapMin  float64 // minutes from epoch to start
	epochJD float64

	// recovered mean motion (rad/min) and semi-major axis (earth radii)
	xnodp float64
	aodp  float64

	semiMajor float64
	perigeeKm float64
	apogeeKm  float64

	incl, ecc, omegao, xnodeo, xmo, bstar float64

	cosio, sinio, theta2, x3thm1, x1mth2, x7thm1 float64
	betao, betao2                                float64

	s4, tsi, eta float64

	c1, c4, c5        float64
	xmdot, omgdot     float64
	xnodot, xnodcf    float64
	t2cof             float64
	xlcof, aycof      float64
	omgcof, xmcof     float64
	delmo, sinmo      float64
	d2, d3, d4        float64
	t3cof, t4cof, t5c float64

	isimp bool
}

// NewSGP4 initializes the propagator. start is the simulation start time;
// positions are queried as start plus elapsed simulation time.
func NewSGP4(el Elements, start time.Time) (*SGP4, error) {
	if err := el.Validate(); err != nil {
		return nil, err
	}
	if el.MeanMotion == 0 {
		el.MeanMotion = MeanMotionFromAltitude(el.AltitudeKm)
	}

	p := &SGP4{
		el:      el,
		start:   start,
		epochJD: el.EpochJD(),
		incl:    deg2rad(el.InclinationDeg),
		ecc:     el.Eccentricity,
		omegao:  deg2rad(el.ArgPerigeeDeg),
		xnodeo:  deg2rad(el.RAANDeg),
		xmo:     deg2rad(el.MeanAnomalyDeg),
		bstar:   el.BStar,
	}
	p.gapMin = (julian.TimeToJD(start) - p.epochJD) * MinPerDay

	p.recoverMeanMotion()
	p.initSecular()
	p.initDrag()
	return p, nil
}

// recoverMeanMotion undoes the Brouwer/Kozai mean motion conversion.
func (p *SGP4) recoverMeanMotion() {
	rpmin := p.el.MeanMotion * twoPi / MinPerDay
	a1 := math.Pow(XKE/rpmin, twoThrd)
	cosio := math.Cos(p.incl)
	e2 := p.ecc * p.ecc
	temp := 1.5 * CK2 * (3.0*cosio*cosio - 1.0) / math.Pow(1.0-e2, 1.5)
	delta1 := temp / (a1 * a1)
	a0 := a1 * (1.0 - delta1*((1.0/3.0)+delta1*(1.0+134.0/81.0*delta1)))
	delta0 := temp / (a0 * a0)

	p.xnodp = rpmin / (1.0 + delta0)
	p.aodp = a0 / (1.0 - delta0)
	p.semiMajor = p.aodp / math.Sqrt(1.0-e2)
	p.perigeeKm = XKMPER * (p.semiMajor*(1.0-p.ecc) - AE)
	p.apogeeKm = XKMPER * (p.semiMajor*(1.0+p.ecc) - AE)
}

func (p *SGP4) initSecular() {
	p.cosio = math.Cos(p.incl)
	p.sinio = math.Sin(p.incl)
	p.theta2 = p.cosio * p.cosio
	p.x3thm1 = 3.0*p.theta2 - 1.0
	eosq := p.ecc * p.ecc
	p.betao2 = 1.0 - eosq
	p.betao = math.Sqrt(p.betao2)

	perigee := XKMPER * (p.aodp*(1.0-p.ecc) - AE)
	s4 := SV
	qoms24 := QOMS2T
	if perigee < 156.0 {
		s4 = perigee - 78.0
		if perigee <= 98.0 {
			s4 = 20.0
		}
		qoms24 = math.Pow((120.0-s4)*AE/XKMPER, 4)
		s4 = s4/XKMPER + AE
	}
	p.s4 = s4

	pinvsq := 1.0 / (p.aodp * p.aodp * p.betao2 * p.betao2)
	p.tsi = 1.0 / (p.aodp - s4)
	p.eta = p.aodp * p.ecc * p.tsi
	etasq := p.eta * p.eta
	eeta := p.ecc * p.eta
	psisq := math.Abs(1.0 - etasq)
	coef := qoms24 * math.Pow(p.tsi, 4)
	coef1 := coef / math.Pow(psisq, 3.5)

	c2 := coef1 * p.xnodp * (p.aodp*(1.0+1.5*etasq+eeta*(4.0+etasq)) +
		0.75*CK2*p.tsi/psisq*p.x3thm1*(8.0+3.0*etasq*(8.0+etasq)))
	p.c1 = p.bstar * c2

	a3ovk2 := -XJ3 / CK2 * AE * AE * AE
	c3 := 0.0
	if p.ecc > 1.0e-4 {
		c3 = coef * p.tsi * a3ovk2 * p.xnodp * AE * p.sinio / p.ecc
	}
	p.x1mth2 = 1.0 - p.theta2
	p.c4 = 2.0 * p.xnodp * coef1 * p.aodp * p.betao2 *
		(p.eta*(2.0+0.5*etasq) + p.ecc*(0.5+2.0*etasq) -
			2.0*CK2*p.tsi/(p.aodp*psisq)*
				(-3.0*p.x3thm1*(1.0-2.0*eeta+etasq*(1.5-0.5*eeta))+
					0.75*p.x1mth2*(2.0*etasq-eeta*(1.0+etasq))*math.Cos(2.0*p.omegao)))

	theta4 := p.theta2 * p.theta2
	temp1 := 3.0 * CK2 * pinvsq * p.xnodp
	temp2 := temp1 * CK2 * pinvsq
	temp3 := 1.25 * CK4 * pinvsq * pinvsq * p.xnodp
	p.xmdot = p.xnodp + 0.5*temp1*p.betao*p.x3thm1 +
		0.0625*temp2*p.betao*(13.0-78.0*p.theta2+137.0*theta4)
	x1m5th := 1.0 - 5.0*p.theta2
	p.omgdot = -0.5*temp1*x1m5th + 0.0625*temp2*(7.0-114.0*p.theta2+395.0*theta4) +
		temp3*(3.0-36.0*p.theta2+49.0*theta4)
	xhdot1 := -temp1 * p.cosio
	p.xnodot = xhdot1 + (0.5*temp2*(4.0-19.0*p.theta2)+2.0*temp3*(3.0-7.0*p.theta2))*p.cosio
	p.xnodcf = 3.5 * p.betao2 * xhdot1 * p.c1
	p.t2cof = 1.5 * p.c1
	p.xlcof = 0.125 * a3ovk2 * p.sinio * (3.0 + 5.0*p.cosio) / (1.0 + p.cosio)
	p.aycof = 0.25 * a3ovk2 * p.sinio
	p.x7thm1 = 7.0*p.theta2 - 1.0

	p.c5 = 2.0 * coef1 * p.aodp * p.betao2 * (1.0 + 2.75*(etasq+eeta) + eeta*etasq)
	p.omgcof = p.bstar * c3 * math.Cos(p.omegao)
	if p.ecc > 1.0e-4 {
		p.xmcof = -twoThrd * coef * p.bstar * AE / eeta
	}
	p.delmo = math.Pow(1.0+p.eta*math.Cos(p.xmo), 3)
	p.sinmo = math.Sin(p.xmo)
}

// initDrag caches the higher order drag terms. They are dropped when the
// perigee is below 220 km.
func (p *SGP4) initDrag() {
	p.isimp = (p.aodp*(1.0-p.ecc))/AE < (220.0/XKMPER + AE)
	if p.isimp {
		return
	}
	c1sq := p.c1 * p.c1
	p.d2 = 4.0 * p.aodp * p.tsi * c1sq
	temp := p.d2 * p.tsi * p.c1 / 3.0
	p.d3 = (17.0*p.aodp + p.s4) * temp
	p.d4 = 0.5 * temp * p.aodp * p.tsi * (221.0*p.aodp + 31.0*p.s4) * p.c1
	p.t3cof = p.d2 + 2.0*c1sq
	p.t4cof = 0.25 * (3.0*p.d3 + p.c1*(12.0*p.d2+10.0*c1sq))
	p.t5c = 0.2 * (3.0*p.d4 + 12.0*p.c1*p.d3 + 6.0*p.d2*p.d2 + 15.0*c1sq*(2.0*p.d2+c1sq))
}

// Propagate returns the ECI state tsince minutes after the element epoch.
func (p *SGP4) Propagate(tsince float64) (StateVector, error) {
	xmdf := p.xmo + p.xmdot*tsince
	omgadf := p.omegao + p.omgdot*tsince
	xnoddf := p.xnodeo + p.xnodot*tsince
	omega := omgadf
	xmp := xmdf
	tsq := tsince * tsince
	xnode := xnoddf + p.xnodcf*tsq
	tempa := 1.0 - p.c1*tsince
	tempe := p.bstar * p.c4 * tsince
	templ := p.t2cof * tsq

	if !p.isimp {
		delomg := p.omgcof * tsince
		delm := p.xmcof * (math.Pow(1.0+p.eta*math.Cos(xmdf), 3) - p.delmo)
		temp := delomg + delm
		xmp = xmdf + temp
		omega = omgadf - temp
		tcube := tsq * tsince
		tfour := tsince * tcube
		tempa = tempa - p.d2*tsq - p.d3*tcube - p.d4*tfour
		tempe = tempe + p.bstar*p.c5*(math.Sin(xmp)-p.sinmo)
		templ = templ + p.t3cof*tcube + tfour*(p.t4cof+tsince*p.t5c)
	}

	a := p.aodp * tempa * tempa
	e := p.ecc - tempe
	xl := xmp + omega + xnode + p.xnodp*templ
	if a <= 0 {
		return StateVector{}, &PropagationError{Reason: ErrOutOfRange, TSince: tsince, Detail: "semi-major axis collapsed"}
	}
	xn := XKE / math.Pow(a, 1.5)
	return p.finalPosition(omega, e, a, xl, xnode, xn, tsince)
}

func (p *SGP4) finalPosition(omega, e, a, xl, xnode, xn, tsince float64) (StateVector, error) {
	if e*e > 1.0 {
		return StateVector{}, &PropagationError{Reason: ErrEccentricity, TSince: tsince, Detail: fmt.Sprintf("e=%g", e)}
	}
	beta := math.Sqrt(1.0 - e*e)

	// long period periodics
	axn := e * math.Cos(omega)
	temp := 1.0 / (a * beta * beta)
	xll := temp * p.xlcof * axn
	aynl := temp * p.aycof
	xlt := xl + xll
	ayn := e*math.Sin(omega) + aynl

	capu := fmod2p(xlt - xnode)
	temp2 := capu
	var sinepw, cosepw, temp3, temp4, temp5, temp6 float64
	converged := false
	for i := 0; i < keplerMaxIter; i++ {
		sinepw = math.Sin(temp2)
		cosepw = math.Cos(temp2)
		temp3 = axn * sinepw
		temp4 = ayn * cosepw
		temp5 = axn * cosepw
		temp6 = ayn * sinepw
		epw := (capu-temp4+temp3-temp2)/(1.0-temp5-temp6) + temp2
		if math.Abs(epw-temp2) <= e6a {
			converged = true
			break
		}
		temp2 = epw
	}
	if !converged {
		return StateVector{}, &PropagationError{Reason: ErrKeplerNotConverged, TSince: tsince}
	}

	// short period preliminary quantities
	ecose := temp5 + temp6
	esine := temp3 - temp4
	elsq := axn*axn + ayn*ayn
	temp = 1.0 - elsq
	pl := a * temp
	r := a * (1.0 - ecose)
	temp1 := 1.0 / r
	rdot := XKE * math.Sqrt(a) * esine * temp1
	rfdot := XKE * math.Sqrt(pl) * temp1
	temp2 = a * temp1
	betal := math.Sqrt(temp)
	temp3 = 1.0 / (1.0 + betal)
	cosu := temp2 * (cosepw - axn + ayn*esine*temp3)
	sinu := temp2 * (sinepw - ayn - axn*esine*temp3)
	u := acTan(sinu, cosu)
	sin2u := 2.0 * sinu * cosu
	cos2u := 2.0*cosu*cosu - 1.0

	temp = 1.0 / pl
	temp1 = CK2 * temp
	temp2 = temp1 * temp

	// short periodics
	rk := r*(1.0-1.5*temp2*betal*p.x3thm1) + 0.5*temp1*p.x1mth2*cos2u
	uk := u - 0.25*temp2*p.x7thm1*sin2u
	xnodek := xnode + 1.5*temp2*p.cosio*sin2u
	xinck := p.incl + 1.5*temp2*p.cosio*p.sinio*cos2u
	rdotk := rdot - xn*temp1*p.x1mth2*sin2u
	rfdotk := rfdot + xn*temp1*(p.x1mth2*cos2u+1.5*p.x3thm1)

	sinuk, cosuk := math.Sin(uk), math.Cos(uk)
	sinik, cosik := math.Sin(xinck), math.Cos(xinck)
	sinnok, cosnok := math.Sin(xnodek), math.Cos(xnodek)
	xmx := -sinnok * cosik
	xmy := cosnok * cosik
	ux := xmx*sinuk + cosnok*cosuk
	uy := xmy*sinuk + sinnok*cosuk
	uz := sinik * sinuk
	vx := xmx*cosuk - cosnok*sinuk
	vy := xmy*cosuk - sinnok*sinuk
	vz := sinik * cosuk

	const kmPerMin = XKMPER / 60.0
	sv := StateVector{
		Position: model.Vector3{X: rk * ux * XKMPER, Y: rk * uy * XKMPER, Z: rk * uz * XKMPER},
		Velocity: model.Vector3{
			X: (rdotk*ux + rfdotk*vx) * kmPerMin,
			Y: (rdotk*uy + rfdotk*vy) * kmPerMin,
			Z: (rdotk*uz + rfdotk*vz) * kmPerMin,
		},
	}

	radius := math.Sqrt(sv.Position.X*sv.Position.X + sv.Position.Y*sv.Position.Y + sv.Position.Z*sv.Position.Z)
	if radius < XKMPER || radius > 2*GeosyncAlt || math.IsNaN(radius) {
		return StateVector{}, &PropagationError{Reason: ErrOutOfRange, TSince: tsince, Detail: fmt.Sprintf("radius=%.1f km", radius)}
	}
	return sv, nil
}

// TSince returns minutes since epoch for an absolute time: the epoch gap
// to the simulation start plus the elapsed simulation time.
func (p *SGP4) TSince(t time.Time) float64 {
	return p.gapMin + t.Sub(p.start).Minutes()
}

// PositionAt propagates to t and converts the result to geodetic
// coordinates.
func (p *SGP4) PositionAt(t time.Time) (model.Position, error) {
	sv, err := p.Propagate(p.TSince(t))
	if err != nil {
		return model.Position{}, err
	}
	return eciToPosition(sv, julian.TimeToJD(t)), nil
}

func eciToPosition(sv StateVector, jd float64) model.Position {
	gmst := satellite.ThetaG_JD(jd)
	alt, _, ll := satellite.ECIToLLA(satellite.Vector3{X: sv.Position.X, Y: sv.Position.Y, Z: sv.Position.Z}, gmst)
	return model.Position{
		Geodetic: model.Geodetic{
			LatitudeDeg:  rad2deg(ll.Latitude),
			LongitudeDeg: normalizeLongitude(rad2deg(ll.Longitude)),
			AltitudeKm:   alt,
		},
		ECI:         sv.Position,
		VelocityECI: sv.Velocity,
		JulianDate:  jd,
		Valid:       true,
	}
}

// normalizeLongitude maps degrees into [-180, 180).
func normalizeLongitude(lon float64) float64 {
	lon = math.Mod(lon+180.0, 360.0)
	if lon < 0 {
		lon += 360.0
	}
	return lon - 180.0
}

func (p *SGP4) Elements() Elements { return p.el }

// MeanMotion is the recovered mean motion in radians per minute.
func (p *SGP4) MeanMotion() float64 { return p.xnodp }

// SemiMajorAxisKm is the recovered semi-major axis.
func (p *SGP4) SemiMajorAxisKm() float64 { return p.semiMajor * XKMPER }

func (p *SGP4) PerigeeKm() float64 { return p.perigeeKm }
func (p *SGP4) ApogeeKm() float64  { return p.apogeeKm }

// Period is the anomalistic period derived from the recovered mean motion.
func (p *SGP4) Period() time.Duration {
	if p.xnodp == 0 {
		return 0
	}
	return time.Duration(twoPi / p.xnodp * float64(time.Minute))
}

// DeepSpace reports whether the period exceeds the near-earth regime.
// Such orbits are still propagated with the near-earth model.
func (p *SGP4) DeepSpace() bool {
	return p.Period().Minutes() >= DeepSpacePeriodMin
}
