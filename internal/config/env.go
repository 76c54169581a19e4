package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvHost         = "SMARTSTEPPER_HOST"
	EnvPort         = "SMARTSTEPPER_PORT"
	EnvDriver       = "SMARTSTEPPER_DRIVER"
	EnvSerialDevice = "SMARTSTEPPER_SERIAL_DEVICE"
	EnvMockGPIO     = "SMARTSTEPPER_MOCK_GPIO"
	EnvLogLevel     = "SMARTSTEPPER_LOG_LEVEL"
	EnvConfig       = "SMARTSTEPPER_CONFIG"
)

// LoadEnvFile loads KEY=VALUE pairs from .env files into the process
// environment. Variables already set win. Missing files are not an error.
func LoadEnvFile(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat env file %s: %w", f, err)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with SMARTSTEPPER_* variables. Values that don't
// parse are skipped and reported in the returned error.
func ApplyEnv(cfg *Config) error {
	var errs []error

	if v, ok := lookupEnv(EnvHost); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookupEnv(EnvPort); ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Server.Port = port
		} else {
			errs = append(errs, fmt.Errorf("%s=%q is not a valid port", EnvPort, v))
		}
	}
	if v, ok := lookupEnv(EnvDriver); ok {
		switch strings.ToLower(v) {
		case DriverStepper, DriverServo42:
			cfg.Motor.Driver = strings.ToLower(v)
		default:
			errs = append(errs, fmt.Errorf("%s=%q is not a known driver", EnvDriver, v))
		}
	}
	if v, ok := lookupEnv(EnvSerialDevice); ok {
		cfg.Motor.Serial.Device = v
	}
	if v, ok := lookupEnv(EnvMockGPIO); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Motor.MockGPIO = b
		} else {
			errs = append(errs, fmt.Errorf("%s=%q is not a boolean", EnvMockGPIO, v))
		}
	}
	if v, ok := lookupEnv(EnvLogLevel); ok {
		if lvl, err := strconv.Atoi(v); err == nil && lvl >= 0 && lvl <= 4 {
			cfg.Logging.Level = lvl
		} else {
			errs = append(errs, fmt.Errorf("%s=%q must be 0-4", EnvLogLevel, v))
		}
	}

	return errors.Join(errs...)
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}
