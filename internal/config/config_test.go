package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	cases := []string{
		"config.json",
		"configs/servo42.yaml",
		"/etc/smartstepper/config.yml",
		"configs/CONFIG.JSON",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err != nil {
			t.Errorf("expected valid path %q, got error: %v", path, err)
		}
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd.json",
		"configs/../../../etc/shadow.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.txt",
		"configs/default",
		"configs/default.toml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

// ---------- Resolve ----------

func assertDefaults(t *testing.T, cfg *Config) {
	t.Helper()
	require.NotNil(t, cfg)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, PinsConfig{StepPin: 18, DirPin: 19, EnablePin: 20}, cfg.Motor.DefaultPins)
	assert.Equal(t, 1, cfg.Motor.DefaultSettings.Microsteps)
	assert.Equal(t, 60.0, cfg.Motor.DefaultSettings.DefaultSpeed)
	assert.Equal(t, 200, cfg.Motor.DefaultSettings.DefaultSteps)
	assert.Equal(t, FloatRange{Min: 0, Max: 1000}, cfg.WebInterface.SpeedRange)
	assert.Equal(t, IntRange{Min: 1, Max: 10000}, cfg.WebInterface.StepsRange)
	assert.Equal(t, DriverStepper, cfg.Motor.Driver)
}

func TestResolve_EmptyIsDefaults(t *testing.T) {
	for _, in := range []string{"", "   \n", "{}"} {
		cfg, err := Resolve([]byte(in))
		require.NoError(t, err, "input %q", in)
		assertDefaults(t, cfg)
	}
}

func TestResolve_CorruptFallsBackToDefaults(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"truncated_json", `{"server": {"host": "127.0.0.1", "port": 9`},
		{"not_a_mapping", `[1, 2, 3]`},
		{"wrong_type", `{"server": {"host": "127.0.0.1", "port": "eighty"}}`},
		{"garbage", "\x00\x01::: {"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Resolve([]byte(tc.data))
			require.Error(t, err)
			var le *LoadError
			assert.True(t, errors.As(err, &le), "want *LoadError, got %T", err)
			// Never a partial config: the host from the broken document must not leak.
			assertDefaults(t, cfg)
		})
	}
}

const sampleJSON = `{
  "server": {"host": "127.0.0.1", "port": 9090},
  "motor": {
    "default_pins": {"step_pin": 5, "dir_pin": 6, "enable_pin": 13},
    "default_settings": {"microsteps": 16, "default_speed": 120, "default_steps": 400}
  },
  "web_interface": {
    "title": "SmartServo42 Control",
    "description": "Servo",
    "speed_range": {"min": 1, "max": 300},
    "steps_range": {"min": 10, "max": 5000}
  }
}`

func TestResolve_JSONDocument(t *testing.T) {
	cfg, err := Resolve([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, PinsConfig{StepPin: 5, DirPin: 6, EnablePin: 13}, cfg.Motor.DefaultPins)
	assert.Equal(t, SettingsConfig{Microsteps: 16, DefaultSpeed: 120, DefaultSteps: 400}, cfg.Motor.DefaultSettings)
	assert.Equal(t, "SmartServo42 Control", cfg.WebInterface.Title)
	assert.Equal(t, FloatRange{Min: 1, Max: 300}, cfg.WebInterface.SpeedRange)
	assert.Equal(t, IntRange{Min: 10, Max: 5000}, cfg.WebInterface.StepsRange)
}

func TestResolve_AbsentSubtreesKeepDefaults(t *testing.T) {
	cfg, err := Resolve([]byte(`{"server": {"port": 9000}}`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, Default().Motor, cfg.Motor)
	assert.Equal(t, Default().WebInterface, cfg.WebInterface)
}

func TestResolve_YAMLDocument(t *testing.T) {
	data := `
motor:
  driver: servo42
  serial:
    device: /dev/ttyAMA0
    address: 0xE1
web_interface:
  steps_range:
    min: 1
    max: 800
`
	cfg, err := Resolve([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, DriverServo42, cfg.Motor.Driver)
	assert.Equal(t, "/dev/ttyAMA0", cfg.Motor.Serial.Device)
	assert.Equal(t, 0xE1, cfg.Motor.Serial.Address)
	assert.Equal(t, 38400, cfg.Motor.Serial.Baud)
	assert.Equal(t, 800, cfg.WebInterface.StepsRange.Max)
}

func TestResolve_OutOfDomainValuesReset(t *testing.T) {
	data := `{
  "server": {"port": 70000},
  "motor": {"driver": "dc", "default_settings": {"microsteps": 0, "default_speed": -5}},
  "web_interface": {"speed_range": {"min": 500, "max": 100}}
}`
	cfg, err := Resolve([]byte(data))
	require.Error(t, err)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Len(t, le.Issues, 5)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverStepper, cfg.Motor.Driver)
	assert.Equal(t, 1, cfg.Motor.DefaultSettings.Microsteps)
	assert.Equal(t, 60.0, cfg.Motor.DefaultSettings.DefaultSpeed)
	assert.Equal(t, FloatRange{Min: 0, Max: 1000}, cfg.WebInterface.SpeedRange)
}

// ---------- Load ----------

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, "config.json", sampleJSON)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.json")
	cfg, err := Load(path)

	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, path, le.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assertDefaults(t, cfg)
}

func TestLoad_CorruptFileCarriesPath(t *testing.T) {
	path := writeConfig(t, "broken.json", `{"server":`)
	cfg, err := Load(path)

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), path), "error %q should name the file", err)
	assertDefaults(t, cfg)
}

// ---------- Helpers ----------

func TestRanges_Contains(t *testing.T) {
	fr := FloatRange{Min: 0, Max: 1000}
	assert.True(t, fr.Contains(0))
	assert.True(t, fr.Contains(1000))
	assert.False(t, fr.Contains(1000.5))
	assert.False(t, fr.Contains(-0.1))

	ir := IntRange{Min: 1, Max: 10000}
	assert.True(t, ir.Contains(1))
	assert.False(t, ir.Contains(0))
	assert.False(t, ir.Contains(10001))
}

func TestAddr_IPv6(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "::1"
	assert.Equal(t, "[::1]:8080", cfg.Addr())
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolve_JSONOnlySyntax(t *testing.T) {
	// Escaped solidus and duplicate keys are valid JSON but not valid YAML.
	data := `{"server":{"host":"127.0.0.1","port":9090},"web_interface":{"title":"A\/B"},"server":{"host":"10.0.0.1","port":9091}}`
	cfg, err := Resolve([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, "A/B", cfg.WebInterface.Title)
	assert.Equal(t, "10.0.0.1:9091", cfg.Addr())
}

func TestLoad_ExtensionSelectsDecoder(t *testing.T) {
	path := writeConfig(t, "rig.json", `{"web_interface": {"title": "Pan\/Tilt"}, "server": {"port": 9100}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Pan/Tilt", cfg.WebInterface.Title)
	assert.Equal(t, 9100, cfg.Server.Port)

	// Flow-style YAML that is not JSON still loads from a .yaml file.
	path = writeConfig(t, "rig.yaml", `{server: {port: 9200}}`)
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestResolveAs_JSONSanitized(t *testing.T) {
	cfg, err := ResolveAs([]byte(`{"server": {"port": -1}}`), FormatJSON)
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Len(t, le.Issues, 1)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestResolve_DefaultsClampedIntoRanges(t *testing.T) {
	data := `{
  "motor": {"default_settings": {"default_speed": 500, "default_steps": 2}},
  "web_interface": {"speed_range": {"min": 10, "max": 300}, "steps_range": {"min": 50, "max": 800}}
}`
	cfg, err := Resolve([]byte(data))
	var le *LoadError
	require.True(t, errors.As(err, &le), "want *LoadError, got %v", err)
	assert.Len(t, le.Issues, 2)
	assert.Equal(t, 300.0, cfg.Motor.DefaultSettings.DefaultSpeed)
	assert.Equal(t, 50, cfg.Motor.DefaultSettings.DefaultSteps)
}
