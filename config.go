package scservo

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes a bus and the servos attached to it. It is the YAML
// counterpart of BusConfig plus named servo handles:
//
//	port: /dev/ttyUSB0
//	baud: 1000000
//	protocol: st
//	timeout_ms: 1000
//	command_gap_us: 1000
//	servos:
//	  - id: 1
//	    name: base
//	    model: sc09
type Config struct {
	Port         string      `yaml:"port"`
	Baud         int         `yaml:"baud,omitempty"`
	Protocol     string      `yaml:"protocol,omitempty"` // "st" (default) or "sc"
	TimeoutMs    int         `yaml:"timeout_ms,omitempty"`
	CommandGapUs int         `yaml:"command_gap_us,omitempty"`
	Servos       []ServoSpec `yaml:"servos,omitempty"`
}

// ServoSpec declares one servo on the bus.
type ServoSpec struct {
	ID    int    `yaml:"id"`
	Name  string `yaml:"name"`
	Model string `yaml:"model,omitempty"`
}

// ParseConfig parses and validates a YAML bus configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfig reads and parses a YAML bus configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}

	switch c.Protocol {
	case "", "st", "sc":
	default:
		return fmt.Errorf("config: unknown protocol %q (want \"st\" or \"sc\")", c.Protocol)
	}

	if c.Baud < 0 {
		return fmt.Errorf("config: baud must not be negative")
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("config: timeout_ms must not be negative")
	}
	if c.CommandGapUs < 0 {
		return fmt.Errorf("config: command_gap_us must not be negative")
	}

	seenIDs := make(map[int]string, len(c.Servos))
	seenNames := make(map[string]bool, len(c.Servos))
	for _, spec := range c.Servos {
		if spec.ID < 0 || spec.ID > int(MaxServoID) {
			return fmt.Errorf("config: servo %q: %w: %d", spec.Name, ErrInvalidID, spec.ID)
		}
		if spec.Name == "" {
			return fmt.Errorf("config: servo with ID %d has no name", spec.ID)
		}
		if other, dup := seenIDs[spec.ID]; dup {
			return fmt.Errorf("config: servos %q and %q share ID %d", other, spec.Name, spec.ID)
		}
		if seenNames[spec.Name] {
			return fmt.Errorf("config: duplicate servo name %q", spec.Name)
		}
		if spec.Model != "" {
			if _, ok := GetModel(spec.Model); !ok {
				return fmt.Errorf("config: servo %q: unknown model %q", spec.Name, spec.Model)
			}
		}
		seenIDs[spec.ID] = spec.Name
		seenNames[spec.Name] = true
	}

	return nil
}

// BusConfig converts the configuration into a BusConfig. The caller may
// adjust fields, typically Logger, before passing it to NewBus.
func (c *Config) BusConfig() BusConfig {
	version := ProtocolST
	if c.Protocol == "sc" {
		version = ProtocolSC
	}

	return BusConfig{
		Port:          c.Port,
		BaudRate:      c.Baud,
		Protocol:      version,
		Timeout:       time.Duration(c.TimeoutMs) * time.Millisecond,
		MinCommandGap: time.Duration(c.CommandGapUs) * time.Microsecond,
	}
}

// Handles builds the named servo handles declared in the configuration.
func (c *Config) Handles(bus *Bus) map[string]*Servo {
	servos := make(map[string]*Servo, len(c.Servos))
	for _, spec := range c.Servos {
		var model *Model
		if spec.Model != "" {
			model, _ = GetModel(spec.Model)
		}
		servos[spec.Name] = NewServo(bus, spec.ID, model)
	}
	return servos
}

// Open dials the configured serial port and returns the bus together
// with the named servo handles.
func (c *Config) Open() (*Bus, map[string]*Servo, error) {
	bus, err := NewBus(c.BusConfig())
	if err != nil {
		return nil, nil, err
	}
	return bus, c.Handles(bus), nil
}
