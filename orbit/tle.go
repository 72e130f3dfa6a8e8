package orbit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/leo-router/model"
)

// TLEPropagator propagates a satellite described by a two-line element
// set using go-satellite's SGP4 implementation.
type TLEPropagator struct {
	Name string
	sat  satellite.Satellite
}

// NewTLEPropagator parses the two element lines.
func NewTLEPropagator(name, line1, line2 string) (*TLEPropagator, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	// go-satellite exits the process on unparsable input, so the layout is
	// checked up front.
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("%w: TLE for %q: %v", ErrInvalidElements, name, err)
	}
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("%w: TLE for %q: %s", ErrInvalidElements, name, sat.ErrorStr)
	}
	return &TLEPropagator{Name: name, sat: sat}, nil
}

// PositionAt propagates to t. Sub-second precision is truncated.
func (p *TLEPropagator) PositionAt(t time.Time) (model.Position, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	// Propagate takes the satellite by value, so its error code is not
	// visible here; failures surface as NaN or an implausible radius.
	pos, vel := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)

	sv := StateVector{
		Position: model.Vector3{X: pos.X, Y: pos.Y, Z: pos.Z},
		Velocity: model.Vector3{X: vel.X, Y: vel.Y, Z: vel.Z},
	}
	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if math.IsNaN(r) || math.IsInf(r, 0) || r < XKMPER || r > 2*GeosyncAlt {
		return model.Position{}, &PropagationError{Reason: ErrOutOfRange, Detail: fmt.Sprintf("%s radius=%.1f km", p.Name, r)}
	}
	return eciToPosition(sv, jd), nil
}

func validateTLELines(line1, line2 string) error {
	switch {
	case len(line1) != 69:
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	case len(line2) != 69:
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	case line1[0] != '1':
		return errors.New("line1 must start with '1'")
	case line2[0] != '2':
		return errors.New("line2 must start with '2'")
	}
	return nil
}
