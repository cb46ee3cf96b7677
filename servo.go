package scservo

import (
	"context"
	"fmt"
)

// Mode selects between position control and continuous rotation.
type Mode int

const (
	ModeServo Mode = iota // position control within angle limits
	ModeWheel             // continuous rotation, angle limits zeroed
)

func (m Mode) String() string {
	switch m {
	case ModeServo:
		return "servo"
	case ModeWheel:
		return "wheel"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Servo provides a high-level interface for controlling a single servo.
type Servo struct {
	bus   *Bus
	id    int
	model *Model
	cal   *MotorCalibration
}

// NewServo creates a new Servo instance.
// If model is nil, defaults to SC09.
func NewServo(bus *Bus, id int, model *Model) *Servo {
	if model == nil {
		model = &ModelSC09
	}
	return &Servo{
		bus:   bus,
		id:    id,
		model: model,
	}
}

// Broadcast returns a handle on the broadcast address. Writes through it
// fan out to every servo on the bus; reads and ping are rejected by the
// bus.
func Broadcast(bus *Bus) *Servo {
	return NewServo(bus, int(BroadcastID), nil)
}

// ID returns the servo's ID.
func (s *Servo) ID() int {
	return s.id
}

// Model returns the servo's model specification.
func (s *Servo) Model() *Model {
	return s.model
}

// SetModel changes the servo's model.
func (s *Servo) SetModel(model *Model) {
	s.model = model
}

// Ping checks whether the servo is present on the bus.
func (s *Servo) Ping(ctx context.Context) (bool, error) {
	return s.bus.Ping(ctx, s.id)
}

// ModelNumber reads the hardware model number.
func (s *Servo) ModelNumber(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegModelNumber.Address, RegModelNumber.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

// DetectModel reads the hardware model number and sets the model from it.
func (s *Servo) DetectModel(ctx context.Context) error {
	num, err := s.ModelNumber(ctx)
	if err != nil {
		return err
	}

	model, ok := GetModelByNumber(num)
	if !ok {
		return fmt.Errorf("unknown model number: %d", num)
	}
	s.model = model
	return nil
}

// Position Control

// Position reads the current position in steps.
func (s *Servo) Position(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentPosition.Address, RegPresentPosition.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

// SetPosition commands the servo to move to position at the given speed.
// Position and speed are validated against the model's limits before
// anything reaches the wire. The goal position and speed words are
// written as one block so the move starts atomically.
func (s *Servo) SetPosition(ctx context.Context, position, speed int) error {
	if position < 0 || position > s.model.MaxPosition {
		return fmt.Errorf("%w: position %d (valid range: 0-%d)", ErrOutOfRange, position, s.model.MaxPosition)
	}
	if speed < 0 || speed > s.model.MaxSpeed {
		return fmt.Errorf("%w: speed %d (valid range: 0-%d)", ErrOutOfRange, speed, s.model.MaxSpeed)
	}

	proto := s.bus.Protocol()
	data := make([]byte, 0, 4)
	data = append(data, proto.EncodeWord(uint16(position))...)
	data = append(data, proto.EncodeWord(uint16(speed))...)

	return s.bus.WriteRegister(ctx, s.id, RegGoalPosition.Address, data)
}

// Moving returns whether the servo is currently executing a move.
func (s *Servo) Moving(ctx context.Context) (bool, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegMoving.Address, RegMoving.Size)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// Telemetry

// Speed reads the present speed register. The value is the raw wire
// word; direction encoding varies by model.
func (s *Servo) Speed(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentSpeed.Address, RegPresentSpeed.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

// Load reads the present load register as the raw wire word.
func (s *Servo) Load(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentLoad.Address, RegPresentLoad.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

// Voltage reads the supply voltage in volts.
func (s *Servo) Voltage(ctx context.Context) (float64, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentVoltage.Address, RegPresentVoltage.Size)
	if err != nil {
		return 0, err
	}
	return float64(data[0]) / 10.0, nil
}

// Temperature reads the internal temperature in degrees Celsius.
func (s *Servo) Temperature(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentTemp.Address, RegPresentTemp.Size)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// Current reads the present current register.
func (s *Servo) Current(ctx context.Context) (int, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegPresentCurrent.Address, RegPresentCurrent.Size)
	if err != nil {
		return 0, err
	}
	return int(s.bus.Protocol().DecodeWord(data)), nil
}

// Torque Control

// TorqueEnabled returns whether torque is enabled.
func (s *Servo) TorqueEnabled(ctx context.Context) (bool, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegTorqueEnable.Address, RegTorqueEnable.Size)
	if err != nil {
		return false, err
	}
	return data[0] != 0, nil
}

// SetTorqueEnabled enables or disables torque.
func (s *Servo) SetTorqueEnabled(ctx context.Context, enabled bool) error {
	var val byte
	if enabled {
		val = 1
	}
	return s.bus.WriteRegister(ctx, s.id, RegTorqueEnable.Address, []byte{val})
}

// Enable is a convenience alias for SetTorqueEnabled(true).
func (s *Servo) Enable(ctx context.Context) error {
	return s.SetTorqueEnabled(ctx, true)
}

// Stop cuts torque, halting any motion. Alias for SetTorqueEnabled(false).
func (s *Servo) Stop(ctx context.Context) error {
	return s.SetTorqueEnabled(ctx, false)
}

// Mode switching

// SetMode switches between position control and continuous rotation by
// rewriting the angle limits: servo mode restores them to 1 and the
// model's maximum, wheel mode zeroes both.
func (s *Servo) SetMode(ctx context.Context, mode Mode) error {
	var min, max uint16
	switch mode {
	case ModeServo:
		min, max = 1, uint16(s.model.MaxPosition)
	case ModeWheel:
		// Zeroed limits select continuous rotation.
	default:
		return fmt.Errorf("%w: mode %d", ErrOutOfRange, int(mode))
	}

	proto := s.bus.Protocol()
	data := make([]byte, 0, 4)
	data = append(data, proto.EncodeWord(min)...)
	data = append(data, proto.EncodeWord(max)...)

	return s.bus.WriteRegister(ctx, s.id, RegMinAngleLimit.Address, data)
}

// GetMode reads the angle limits back and reports the active mode.
func (s *Servo) GetMode(ctx context.Context) (Mode, error) {
	data, err := s.bus.ReadRegister(ctx, s.id, RegMinAngleLimit.Address, 4)
	if err != nil {
		return ModeServo, err
	}

	proto := s.bus.Protocol()
	min := proto.DecodeWord(data[0:2])
	max := proto.DecodeWord(data[2:4])
	if min == 0 && max == 0 {
		return ModeWheel, nil
	}
	return ModeServo, nil
}

// SetWheelSpeed sets the rotation speed in wheel mode. Positive speeds
// rotate one way, negative the other, zero stops. Bit 10 of the wire
// word carries the direction.
func (s *Servo) SetWheelSpeed(ctx context.Context, speed int) error {
	if speed < -MaxWheelSpeed || speed > MaxWheelSpeed {
		return fmt.Errorf("%w: wheel speed %d (valid range: %d to %d)", ErrOutOfRange, speed, -MaxWheelSpeed, MaxWheelSpeed)
	}

	value := speed + 1024
	if speed < 0 {
		value = -speed
	}

	data := s.bus.Protocol().EncodeWord(uint16(value))
	return s.bus.WriteRegister(ctx, s.id, RegGoalTime.Address, data)
}

// Calibration

// SetCalibration attaches a calibration to the servo for the angle API.
func (s *Servo) SetCalibration(cal *MotorCalibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if cal.ID != s.id {
		return fmt.Errorf("calibration is for servo %d, not %d", cal.ID, s.id)
	}
	if cal.RangeMax > s.model.MaxPosition {
		return fmt.Errorf("%w: calibration range max %d exceeds model limit %d", ErrOutOfRange, cal.RangeMax, s.model.MaxPosition)
	}

	s.cal = cal
	return nil
}

// Calibration returns the attached calibration, or nil.
func (s *Servo) Calibration() *MotorCalibration {
	return s.cal
}

// calibration returns the attached calibration or a full-range default.
func (s *Servo) calibration() *MotorCalibration {
	if s.cal != nil {
		return s.cal
	}
	return &MotorCalibration{
		ID:       s.id,
		RangeMin: 0,
		RangeMax: s.model.MaxPosition,
	}
}

// Angle reads the current position as a normalized value, degrees by
// default.
func (s *Servo) Angle(ctx context.Context) (float64, error) {
	pos, err := s.Position(ctx)
	if err != nil {
		return 0, err
	}
	return s.calibration().Normalize(pos)
}

// SetAngle moves to a normalized target, degrees by default, at the
// given speed.
func (s *Servo) SetAngle(ctx context.Context, angle float64, speed int) error {
	pos, err := s.calibration().Denormalize(angle)
	if err != nil {
		return err
	}
	return s.SetPosition(ctx, pos, speed)
}

// Named register access

// ReadRegister reads a register by name.
func (s *Servo) ReadRegister(ctx context.Context, name string) ([]byte, error) {
	reg, ok := GetRegister(name)
	if !ok {
		return nil, fmt.Errorf("unknown register: %s", name)
	}
	return s.bus.ReadRegister(ctx, s.id, reg.Address, reg.Size)
}

// WriteRegister writes to a register by name.
func (s *Servo) WriteRegister(ctx context.Context, name string, data []byte) error {
	reg, ok := GetRegister(name)
	if !ok {
		return fmt.Errorf("unknown register: %s", name)
	}
	if reg.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	if len(data) != reg.Size {
		return fmt.Errorf("data size mismatch: expected %d bytes, got %d", reg.Size, len(data))
	}
	return s.bus.WriteRegister(ctx, s.id, reg.Address, data)
}
