package scservo

// Register describes an entry in the servo control table.
type Register struct {
	Address  byte
	Size     int // 1 or 2 bytes
	ReadOnly bool
}

// Control table registers for the SCS/ST family.
var (
	// EEPROM registers
	RegModelNumber   = Register{Address: 3, Size: 2, ReadOnly: true}
	RegID            = Register{Address: 5, Size: 1}
	RegBaudRate      = Register{Address: 6, Size: 1}
	RegMinAngleLimit = Register{Address: 9, Size: 2}
	RegMaxAngleLimit = Register{Address: 11, Size: 2}
	RegCWDeadband    = Register{Address: 26, Size: 1}
	RegCCWDeadband   = Register{Address: 27, Size: 1}

	// RAM registers (volatile)
	RegTorqueEnable = Register{Address: 40, Size: 1}
	RegGoalPosition = Register{Address: 42, Size: 2}
	RegGoalTime     = Register{Address: 44, Size: 2}
	RegGoalSpeed    = Register{Address: 46, Size: 2}
	RegLock         = Register{Address: 48, Size: 1}

	// Feedback registers (read-only)
	RegPresentPosition = Register{Address: 56, Size: 2, ReadOnly: true}
	RegPresentSpeed    = Register{Address: 58, Size: 2, ReadOnly: true}
	RegPresentLoad     = Register{Address: 60, Size: 2, ReadOnly: true}
	RegPresentVoltage  = Register{Address: 62, Size: 1, ReadOnly: true}
	RegPresentTemp     = Register{Address: 63, Size: 1, ReadOnly: true}
	RegMoving          = Register{Address: 66, Size: 1, ReadOnly: true}
	RegPresentCurrent  = Register{Address: 69, Size: 2, ReadOnly: true}
)

// registersByName maps register names to their definitions for the
// name-based accessors on Servo.
var registersByName = map[string]Register{
	"model_number":     RegModelNumber,
	"id":               RegID,
	"baud_rate":        RegBaudRate,
	"min_angle_limit":  RegMinAngleLimit,
	"max_angle_limit":  RegMaxAngleLimit,
	"cw_deadband":      RegCWDeadband,
	"ccw_deadband":     RegCCWDeadband,
	"torque_enable":    RegTorqueEnable,
	"goal_position":    RegGoalPosition,
	"goal_time":        RegGoalTime,
	"goal_speed":       RegGoalSpeed,
	"lock":             RegLock,
	"present_position": RegPresentPosition,
	"present_speed":    RegPresentSpeed,
	"present_load":     RegPresentLoad,
	"present_voltage":  RegPresentVoltage,
	"present_temp":     RegPresentTemp,
	"moving":           RegMoving,
	"present_current":  RegPresentCurrent,
}

// GetRegister returns the register definition for the given name.
func GetRegister(name string) (Register, bool) {
	reg, ok := registersByName[name]
	return reg, ok
}

// ListRegisters returns all known register names.
func ListRegisters() []string {
	names := make([]string, 0, len(registersByName))
	for name := range registersByName {
		names = append(names, name)
	}
	return names
}

// Model represents a servo model specification.
type Model struct {
	Name        string
	Number      int // Model number reported at RegModelNumber
	Resolution  int // Position resolution in steps (e.g., 1024 for 10-bit)
	MaxPosition int // Maximum position value
	MaxSpeed    int // Maximum position-move speed value
}

// MaxWheelSpeed bounds the signed wheel-mode speed for the family.
const MaxWheelSpeed = 1023

// DefaultBaudRates for most SCS/ST servos, in register index order.
var DefaultBaudRates = []int{
	1000000, // 0
	500000,  // 1
	250000,  // 2
	128000,  // 3
	115200,  // 4
	76800,   // 5
	57600,   // 6
	38400,   // 7
}

// Predefined servo models.
var (
	ModelSC09 = Model{
		Name:        "sc09",
		Number:      9,
		Resolution:  1024,
		MaxPosition: 1023,
		MaxSpeed:    1500,
	}

	ModelSC15 = Model{
		Name:        "sc15",
		Number:      15,
		Resolution:  1024,
		MaxPosition: 1023,
		MaxSpeed:    1500,
	}

	ModelST3215 = Model{
		Name:        "st3215",
		Number:      777,
		Resolution:  4096,
		MaxPosition: 4095,
		MaxSpeed:    4095,
	}
)

// modelRegistry holds all known models indexed by name and number.
var modelRegistry = struct {
	byName   map[string]*Model
	byNumber map[int]*Model
}{
	byName:   make(map[string]*Model),
	byNumber: make(map[int]*Model),
}

func init() {
	RegisterModel(&ModelSC09)
	RegisterModel(&ModelSC15)
	RegisterModel(&ModelST3215)
}

// RegisterModel adds a model to the registry.
func RegisterModel(m *Model) {
	modelRegistry.byName[m.Name] = m
	modelRegistry.byNumber[m.Number] = m
}

// GetModel returns a model by name.
func GetModel(name string) (*Model, bool) {
	m, ok := modelRegistry.byName[name]
	return m, ok
}

// GetModelByNumber returns a model by its hardware model number.
func GetModelByNumber(number int) (*Model, bool) {
	m, ok := modelRegistry.byNumber[number]
	return m, ok
}

// ListModels returns all registered model names.
func ListModels() []string {
	names := make([]string, 0, len(modelRegistry.byName))
	for name := range modelRegistry.byName {
		names = append(names, name)
	}
	return names
}

// BaudRateIndex returns the register value for a baud rate, or -1 if the
// rate is not supported.
func BaudRateIndex(baudRate int) int {
	for i, rate := range DefaultBaudRates {
		if rate == baudRate {
			return i
		}
	}
	return -1
}
