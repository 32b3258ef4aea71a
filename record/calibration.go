package record

import (
	"errors"
	"fmt"
)

// Mode is the measurement mode of the analog front end.
type Mode int

const (
	ModePrimary Mode = iota
	ModeNorm
	ModeDigital
)

var ErrInvalidMode = errors.New("invalid mode")

func (m Mode) String() string {
	switch m {
	case ModePrimary:
		return "primary"
	case ModeNorm:
		return "norm"
	case ModeDigital:
		return "digital"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) Valid() bool {
	return m >= ModePrimary && m <= ModeDigital
}

// ParseMode accepts the names returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	for m := ModePrimary; m <= ModeDigital; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Calibration holds per-sensor conversion parameters. Gain and Transmission
// are stored as reciprocals of the values supplied by the caller.
type Calibration struct {
	Mode         Mode
	Offset       [SensorCount]int
	Gain         [SensorCount]float32
	Transmission [SensorCount]float32
}

// DefaultCalibration converts raw counts without scaling.
func DefaultCalibration() Calibration {
	c := Calibration{Mode: ModePrimary}
	for i := range c.Gain {
		c.Gain[i] = 1
		c.Transmission[i] = 1
	}
	return c
}

// SetGains stores reciprocals of gains. Zero gains are rejected.
func (c *Calibration) SetGains(gains [SensorCount]float32) error {
	inv, err := reciprocals(gains)
	if err != nil {
		return fmt.Errorf("gain: %w", err)
	}
	c.Gain = inv
	return nil
}

// SetTransmissions stores reciprocals of transmission coefficients.
func (c *Calibration) SetTransmissions(trans [SensorCount]float32) error {
	inv, err := reciprocals(trans)
	if err != nil {
		return fmt.Errorf("transmission: %w", err)
	}
	c.Transmission = inv
	return nil
}

// Apply converts one raw reading of sensor i.
func (c *Calibration) Apply(i int, raw uint16) float32 {
	return (float32(raw) - float32(c.Offset[i])) * c.Gain[i] * c.Transmission[i]
}

func reciprocals(values [SensorCount]float32) ([SensorCount]float32, error) {
	var out [SensorCount]float32
	for i, v := range values {
		if v == 0 {
			return out, fmt.Errorf("sensor %d: value must not be zero", i+1)
		}
		out[i] = 1 / v
	}
	return out, nil
}
