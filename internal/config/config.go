package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Driver types accepted in motor.driver.
const (
	DriverStepper = "stepper"
	DriverServo42 = "servo42"
)

// ServerConfig holds the HTTP bind address.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// PinsConfig is the default pin assignment (BCM numbering).
type PinsConfig struct {
	StepPin   int `yaml:"step_pin" json:"step_pin"`
	DirPin    int `yaml:"dir_pin" json:"dir_pin"`
	EnablePin int `yaml:"enable_pin" json:"enable_pin"` // 0 = not used. Active LOW.
}

// SettingsConfig holds motion defaults applied to commands that omit fields.
type SettingsConfig struct {
	Microsteps   int     `yaml:"microsteps" json:"microsteps"`
	DefaultSpeed float64 `yaml:"default_speed" json:"default_speed"` // RPM
	DefaultSteps int     `yaml:"default_steps" json:"default_steps"`
}

// SerialConfig describes the UART link used by the servo42 driver.
type SerialConfig struct {
	Device        string `yaml:"device" json:"device"`
	Baud          int    `yaml:"baud" json:"baud"`
	Address       int    `yaml:"address" json:"address"`                 // slave address, 0xE0..0xE9
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"read_timeout_ms"` // per-frame read timeout
}

// MotorConfig groups everything needed to build a motor driver.
type MotorConfig struct {
	Driver          string         `yaml:"driver" json:"driver"` // "stepper" or "servo42"
	MockGPIO        bool           `yaml:"mock_gpio" json:"mock_gpio"`
	StepsPerRev     int            `yaml:"steps_per_rev" json:"steps_per_rev"`
	StrictDirection bool           `yaml:"strict_direction" json:"strict_direction"` // reject unknown direction strings
	DefaultPins     PinsConfig     `yaml:"default_pins" json:"default_pins"`
	DefaultSettings SettingsConfig `yaml:"default_settings" json:"default_settings"`
	Serial          SerialConfig   `yaml:"serial" json:"serial"`
}

// FloatRange is an inclusive [Min, Max] interval.
type FloatRange struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies in the range.
func (r FloatRange) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// IntRange is an inclusive [Min, Max] interval.
type IntRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether v lies in the range.
func (r IntRange) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// WebConfig is advertised to clients through the form layout.
type WebConfig struct {
	Title       string     `yaml:"title" json:"title"`
	Description string     `yaml:"description" json:"description"`
	SpeedRange  FloatRange `yaml:"speed_range" json:"speed_range"`
	StepsRange  IntRange   `yaml:"steps_range" json:"steps_range"`
}

// LoggingConfig selects the debug level (0-4).
type LoggingConfig struct {
	Level int  `yaml:"level" json:"level"`
	JSON  bool `yaml:"json" json:"json"`
}

// Config aggregates all application configuration. It is resolved once at
// startup and must be treated as read-only afterwards.
type Config struct {
	Server       ServerConfig  `yaml:"server" json:"server"`
	Motor        MotorConfig   `yaml:"motor" json:"motor"`
	WebInterface WebConfig     `yaml:"web_interface" json:"web_interface"`
	Logging      LoggingConfig `yaml:"logging" json:"logging"`
}

// LoadError reports a configuration source that could not be used as-is.
// The accompanying config is always complete; LoadError is a warning.
type LoadError struct {
	Path   string
	Err    error
	Issues []string
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if len(e.Issues) > 0 {
		b.WriteString(": " + strings.Join(e.Issues, "; "))
	}
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Motor: MotorConfig{
			Driver:      DriverStepper,
			MockGPIO:    true,
			StepsPerRev: 200,
			DefaultPins: PinsConfig{StepPin: 18, DirPin: 19, EnablePin: 20},
			DefaultSettings: SettingsConfig{
				Microsteps:   1,
				DefaultSpeed: 60,
				DefaultSteps: 200,
			},
			Serial: SerialConfig{
				Device:        "/dev/ttyUSB0",
				Baud:          38400,
				Address:       0xE0,
				ReadTimeoutMs: 200,
			},
		},
		WebInterface: WebConfig{
			Title:       "SmartStepper Control",
			Description: "Control your stepper motor with direction and speed settings",
			SpeedRange:  FloatRange{Min: 0, Max: 1000},
			StepsRange:  IntRange{Min: 1, Max: 10000},
		},
		Logging: LoggingConfig{Level: 1},
	}
}

// Format selects the decoder used by Resolve.
type Format int

const (
	FormatAuto Format = iota // JSON if the document starts with { or [, else YAML
	FormatJSON
	FormatYAML
)

// formatFor maps a file extension to its Format.
func formatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatAuto
	}
}

// Resolve decodes data (JSON or YAML, sniffed) over the defaults. Fields
// present in data override their default; absent fields keep it. If data
// cannot be decoded the full default config is returned along with a
// *LoadError.
func Resolve(data []byte) (*Config, error) {
	return ResolveAs(data, FormatAuto)
}

// ResolveAs is Resolve with an explicit document format. JSON documents go
// through encoding/json since YAML rejects some valid JSON (\/ escapes,
// duplicate keys).
func ResolveAs(data []byte, format Format) (*Config, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Default(), nil
	}
	if format == FormatAuto {
		format = FormatYAML
		if trimmed[0] == '{' || trimmed[0] == '[' {
			format = FormatJSON
		}
	}

	cfg := Default()
	var err error
	if format == FormatJSON {
		err = json.Unmarshal(trimmed, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		// Both decoders may have partially filled cfg before failing.
		return Default(), &LoadError{Err: fmt.Errorf("unmarshal: %w", err)}
	}

	if issues := sanitize(cfg); len(issues) > 0 {
		return cfg, &LoadError{Issues: issues}
	}
	return cfg, nil
}

// Load reads and resolves the configuration file at path. The extension
// picks the decoder. A missing or unreadable file yields the defaults plus a
// *LoadError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), &LoadError{Path: path, Err: fmt.Errorf("read config file: %w", err)}
	}

	cfg, err := ResolveAs(data, formatFor(path))
	var le *LoadError
	if errors.As(err, &le) {
		le.Path = path
	}
	return cfg, err
}

// sanitize resets out-of-domain values to their defaults and reports them.
func sanitize(cfg *Config) []string {
	def := Default()
	var issues []string
	reset := func(msg string, args ...interface{}) {
		issues = append(issues, fmt.Sprintf(msg, args...))
	}

	if strings.TrimSpace(cfg.Server.Host) == "" {
		reset("server.host is empty, using %q", def.Server.Host)
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		reset("server.port %d out of range, using %d", cfg.Server.Port, def.Server.Port)
		cfg.Server.Port = def.Server.Port
	}

	pins := &cfg.Motor.DefaultPins
	if pins.StepPin < 0 || pins.DirPin < 0 || pins.EnablePin < 0 {
		reset("motor.default_pins contains a negative pin, using defaults")
		*pins = def.Motor.DefaultPins
	}

	set := &cfg.Motor.DefaultSettings
	if set.Microsteps < 1 {
		reset("motor.default_settings.microsteps must be >= 1, using %d", def.Motor.DefaultSettings.Microsteps)
		set.Microsteps = def.Motor.DefaultSettings.Microsteps
	}
	if set.DefaultSpeed < 0 {
		reset("motor.default_settings.default_speed must be >= 0, using %g", def.Motor.DefaultSettings.DefaultSpeed)
		set.DefaultSpeed = def.Motor.DefaultSettings.DefaultSpeed
	}
	if set.DefaultSteps < 0 {
		reset("motor.default_settings.default_steps must be >= 0, using %d", def.Motor.DefaultSettings.DefaultSteps)
		set.DefaultSteps = def.Motor.DefaultSettings.DefaultSteps
	}
	if cfg.Motor.StepsPerRev <= 0 {
		reset("motor.steps_per_rev must be > 0, using %d", def.Motor.StepsPerRev)
		cfg.Motor.StepsPerRev = def.Motor.StepsPerRev
	}

	switch cfg.Motor.Driver {
	case DriverStepper, DriverServo42:
	default:
		reset("unsupported motor.driver %q, using %q", cfg.Motor.Driver, def.Motor.Driver)
		cfg.Motor.Driver = def.Motor.Driver
	}

	ser := &cfg.Motor.Serial
	if ser.Device == "" {
		ser.Device = def.Motor.Serial.Device
	}
	if ser.Baud <= 0 {
		reset("motor.serial.baud must be > 0, using %d", def.Motor.Serial.Baud)
		ser.Baud = def.Motor.Serial.Baud
	}
	if ser.Address < 0 || ser.Address > 0xFF {
		reset("motor.serial.address %d is not a byte, using %#x", ser.Address, def.Motor.Serial.Address)
		ser.Address = def.Motor.Serial.Address
	}
	if ser.ReadTimeoutMs <= 0 {
		ser.ReadTimeoutMs = def.Motor.Serial.ReadTimeoutMs
	}

	web := &cfg.WebInterface
	if web.SpeedRange.Min < 0 || web.SpeedRange.Min > web.SpeedRange.Max {
		reset("web_interface.speed_range [%g,%g] is invalid, using defaults", web.SpeedRange.Min, web.SpeedRange.Max)
		web.SpeedRange = def.WebInterface.SpeedRange
	}
	if web.StepsRange.Min < 0 || web.StepsRange.Min > web.StepsRange.Max {
		reset("web_interface.steps_range [%d,%d] is invalid, using defaults", web.StepsRange.Min, web.StepsRange.Max)
		web.StepsRange = def.WebInterface.StepsRange
	}

	// The form defaults must be acceptable to the control endpoint.
	if !web.SpeedRange.Contains(set.DefaultSpeed) {
		clamped := min(max(set.DefaultSpeed, web.SpeedRange.Min), web.SpeedRange.Max)
		reset("motor.default_settings.default_speed %g is outside speed_range [%g,%g], using %g",
			set.DefaultSpeed, web.SpeedRange.Min, web.SpeedRange.Max, clamped)
		set.DefaultSpeed = clamped
	}
	if !web.StepsRange.Contains(set.DefaultSteps) {
		clamped := min(max(set.DefaultSteps, web.StepsRange.Min), web.StepsRange.Max)
		reset("motor.default_settings.default_steps %d is outside steps_range [%d,%d], using %d",
			set.DefaultSteps, web.StepsRange.Min, web.StepsRange.Max, clamped)
		set.DefaultSteps = clamped
	}

	if cfg.Logging.Level < 0 || cfg.Logging.Level > 4 {
		reset("logging.level %d out of range 0-4, using %d", cfg.Logging.Level, def.Logging.Level)
		cfg.Logging.Level = def.Logging.Level
	}

	return issues
}

// ValidateConfigPath rejects path traversal and unsupported extensions.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return nil
	default:
		return fmt.Errorf("config path %q must end in .json, .yaml or .yml", path)
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
