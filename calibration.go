package scservo

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Normalization modes. Degrees is the zero value and therefore the
// default for calibrations that do not specify a mode.
const (
	NormModeDegrees   = 0 // -180 to +180 degrees
	NormModeRaw       = 1 // raw servo steps
	NormModeRange100  = 2 // 0 to 100
	NormModeRangeM100 = 3 // -100 to +100
)

// MotorCalibration defines the usable range and normalization for a
// servo. The range is expressed in raw steps; Normalize and Denormalize
// map between steps and the normalized scale.
type MotorCalibration struct {
	ID        int `json:"id"`                  // Servo ID
	DriveMode int `json:"drive_mode"`          // Drive direction (0=normal, 1=inverted)
	RangeMin  int `json:"range_min"`           // Minimum usable position
	RangeMax  int `json:"range_max"`           // Maximum usable position
	NormMode  int `json:"norm_mode,omitempty"` // Normalization mode
}

// NewMotorCalibration creates a calibration with the full SC09 range and
// degree normalization.
func NewMotorCalibration(id int) *MotorCalibration {
	return &MotorCalibration{
		ID:       id,
		RangeMin: 0,
		RangeMax: 1023,
		NormMode: NormModeDegrees,
	}
}

// Validate checks if the calibration parameters are consistent.
func (c *MotorCalibration) Validate() error {
	if c.ID < 0 || c.ID > int(MaxServoID) {
		return fmt.Errorf("%w: %d (valid range: 0-%d)", ErrInvalidID, c.ID, MaxServoID)
	}

	if c.RangeMin < 0 {
		return fmt.Errorf("range min must not be negative, got %d", c.RangeMin)
	}

	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("invalid range: min (%d) must be less than max (%d)", c.RangeMin, c.RangeMax)
	}

	if c.NormMode < NormModeDegrees || c.NormMode > NormModeRangeM100 {
		return fmt.Errorf("invalid normalization mode: %d", c.NormMode)
	}

	return nil
}

// Clone creates a copy of the calibration.
func (c *MotorCalibration) Clone() *MotorCalibration {
	clone := *c
	return &clone
}

// RangeSize returns the usable range size in steps.
func (c *MotorCalibration) RangeSize() int {
	return c.RangeMax - c.RangeMin
}

// CenterPosition returns the center of the calibrated range in steps.
func (c *MotorCalibration) CenterPosition() int {
	return (c.RangeMin + c.RangeMax) / 2
}

func (c *MotorCalibration) normModeString() string {
	switch c.NormMode {
	case NormModeDegrees:
		return "degrees"
	case NormModeRaw:
		return "raw"
	case NormModeRange100:
		return "0-100"
	case NormModeRangeM100:
		return "-100 to +100"
	default:
		return "unknown"
	}
}

func (c *MotorCalibration) String() string {
	direction := "normal"
	if c.DriveMode != 0 {
		direction = "inverted"
	}

	return fmt.Sprintf("ID %d: range[%d-%d] %s %s",
		c.ID, c.RangeMin, c.RangeMax, c.normModeString(), direction)
}

// Normalize converts a raw servo position to a normalized value.
func (c *MotorCalibration) Normalize(rawValue int) (float64, error) {
	if c.RangeMax == c.RangeMin {
		return 0, fmt.Errorf("invalid calibration: min and max are equal")
	}

	var normalized float64

	switch c.NormMode {
	case NormModeRaw:
		normalized = float64(rawValue)

	case NormModeRange100:
		normalized = float64(rawValue-c.RangeMin) / float64(c.RangeMax-c.RangeMin) * 100.0
		normalized = math.Max(0, math.Min(100, normalized))

	case NormModeRangeM100:
		center := float64(c.RangeMin+c.RangeMax) / 2.0
		halfRange := float64(c.RangeMax-c.RangeMin) / 2.0
		normalized = (float64(rawValue) - center) / halfRange * 100.0
		normalized = math.Max(-100, math.Min(100, normalized))

	case NormModeDegrees:
		center := float64(c.RangeMin+c.RangeMax) / 2.0
		halfRange := float64(c.RangeMax-c.RangeMin) / 2.0
		normalized = (float64(rawValue) - center) / halfRange * 180.0
		normalized = math.Max(-180, math.Min(180, normalized))

	default:
		return 0, fmt.Errorf("unknown normalization mode: %d", c.NormMode)
	}

	if c.DriveMode != 0 {
		normalized = c.invert(normalized)
	}

	return normalized, nil
}

// Denormalize converts a normalized value back to a raw servo position,
// clamped to the calibrated range.
func (c *MotorCalibration) Denormalize(normalizedValue float64) (int, error) {
	if c.RangeMax == c.RangeMin {
		return 0, fmt.Errorf("invalid calibration: min and max are equal")
	}

	adjusted := normalizedValue
	if c.DriveMode != 0 {
		adjusted = c.invert(normalizedValue)
	}

	var rawValue int

	switch c.NormMode {
	case NormModeRaw:
		rawValue = int(math.Round(adjusted))

	case NormModeRange100:
		clamped := math.Max(0, math.Min(100, adjusted))
		rawValue = int(math.Round(clamped/100.0*float64(c.RangeMax-c.RangeMin) + float64(c.RangeMin)))

	case NormModeRangeM100:
		clamped := math.Max(-100, math.Min(100, adjusted))
		center := float64(c.RangeMin+c.RangeMax) / 2.0
		halfRange := float64(c.RangeMax-c.RangeMin) / 2.0
		rawValue = int(math.Round(center + clamped/100.0*halfRange))

	case NormModeDegrees:
		clamped := math.Max(-180, math.Min(180, adjusted))
		center := float64(c.RangeMin+c.RangeMax) / 2.0
		halfRange := float64(c.RangeMax-c.RangeMin) / 2.0
		rawValue = int(math.Round(center + clamped/180.0*halfRange))

	default:
		return 0, fmt.Errorf("unknown normalization mode: %d", c.NormMode)
	}

	if rawValue < c.RangeMin {
		rawValue = c.RangeMin
	}
	if rawValue > c.RangeMax {
		rawValue = c.RangeMax
	}

	return rawValue, nil
}

// invert mirrors a normalized value for inverted drive mode.
func (c *MotorCalibration) invert(value float64) float64 {
	switch c.NormMode {
	case NormModeRaw:
		center := float64(c.RangeMin+c.RangeMax) / 2.0
		return 2*center - value
	case NormModeRange100:
		return 100.0 - value
	default:
		return -value
	}
}

// LoadCalibrations loads calibration data from a JSON file keyed by
// motor name. Returns the calibrations keyed by servo ID.
func LoadCalibrations(filename string) (map[int]*MotorCalibration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var motorMap map[string]*MotorCalibration
	if err := json.Unmarshal(data, &motorMap); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	result := make(map[int]*MotorCalibration)
	for motorName, cal := range motorMap {
		if err := cal.Validate(); err != nil {
			return nil, fmt.Errorf("invalid calibration for motor %s: %w", motorName, err)
		}

		if _, exists := result[cal.ID]; exists {
			return nil, fmt.Errorf("duplicate servo ID %d in calibration file", cal.ID)
		}

		result[cal.ID] = cal
	}

	return result, nil
}

// SaveCalibrations saves calibration data to a JSON file keyed by motor
// name. Servos without an entry in motorNames are keyed "motor_<id>".
func SaveCalibrations(filename string, calibrations map[int]*MotorCalibration, motorNames map[int]string) error {
	motorMap := make(map[string]*MotorCalibration)

	for id, cal := range calibrations {
		motorName, exists := motorNames[id]
		if !exists {
			motorName = fmt.Sprintf("motor_%d", id)
		}
		motorMap[motorName] = cal
	}

	data, err := json.MarshalIndent(motorMap, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibrations: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}

	return nil
}
