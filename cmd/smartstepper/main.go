package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cjeanneret/SmartStepper/internal/config"
	"github.com/cjeanneret/SmartStepper/internal/debug"
	"github.com/cjeanneret/SmartStepper/internal/hw/gpio"
	"github.com/cjeanneret/SmartStepper/internal/hw/motor"
	"github.com/cjeanneret/SmartStepper/internal/hw/serial"
	"github.com/cjeanneret/SmartStepper/internal/hw/servo42"
	"github.com/cjeanneret/SmartStepper/internal/hw/stepper"
	"github.com/cjeanneret/SmartStepper/internal/logic/motion"
	"github.com/cjeanneret/SmartStepper/internal/web"
)

var defaultConfigPath = filepath.Join("configs", "config.json")

// options are the command-line overrides. Zero values mean "not set".
type options struct {
	host       string
	port       int
	configPath string
	envFile    string
}

func main() {
	var opts options
	flag.StringVar(&opts.host, "host", "", "host address to bind to (overrides config)")
	flag.IntVar(&opts.port, "port", 0, "port to listen on (overrides config)")
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file (.json, .yaml, .yml)")
	flag.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with SMARTSTEPPER_* overrides")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		logrus.Fatalf("smartstepper: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, warnings, err := loadConfig(opts)
	if err != nil {
		return err
	}

	debug.Init(cfg.Logging.Level)
	debug.SetJSON(cfg.Logging.JSON)
	for _, w := range warnings {
		debug.Warn("%v", w)
	}

	debug.Section("SmartStepper")
	debug.Value("Listen address", cfg.Addr())
	debug.Value("Driver", cfg.Motor.Driver)
	debug.Value("Debug level", cfg.Logging.Level)
	debug.PrintStruct("Default pins", cfg.Motor.DefaultPins)
	debug.PrintStruct("Default settings", cfg.Motor.DefaultSettings)

	debug.Step(1, "Selecting motor driver")
	factory, closeHW, err := newFactory(cfg)
	if err != nil {
		return err
	}

	debug.Step(2, "Opening motor session")
	session := motion.NewSession(factory)
	defer release(session, closeHW)

	debug.Step(3, "Starting web server")
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	srv, err := web.NewServer(cfg, session, broadcaster)
	if err != nil {
		return err
	}
	debug.Summary(fmt.Sprintf("SmartStepper on http://%s (%s)", srv.Addr(), cfg.Motor.Driver))
	debug.Info("Layout: http://%s/api/layout", srv.Addr())
	debug.Info("Status: http://%s/api/status", srv.Addr())
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	debug.Info("Goodbye!")
	return nil
}

// release stops the motor, then frees the shared hardware. Failures are
// logged only; the process is exiting.
func release(session *motion.Session, closeHW func() error) {
	if err := session.Close(); err != nil {
		debug.Error(fmt.Errorf("stopping motor: %w", err))
	}
	if err := closeHW(); err != nil {
		debug.Error(fmt.Errorf("closing hardware: %w", err))
	}
}

// loadConfig resolves the configuration with precedence flags > environment
// > file > defaults. Problems that leave a usable config are returned as
// warnings; only an unusable config path is an error.
func loadConfig(opts options) (*config.Config, []error, error) {
	var warnings []error

	if err := config.LoadEnvFile(opts.envFile); err != nil {
		warnings = append(warnings, err)
	}

	path, explicit := opts.configPath, opts.configPath != ""
	if !explicit {
		if v := os.Getenv(config.EnvConfig); v != "" {
			path, explicit = v, true
		} else {
			path = defaultConfigPath
		}
	}
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		var le *config.LoadError
		missing := errors.As(err, &le) && errors.Is(le.Err, os.ErrNotExist)
		// A missing default file just means "use built-in defaults".
		if explicit || !missing {
			warnings = append(warnings, err)
		}
	}

	if err := config.ApplyEnv(cfg); err != nil {
		warnings = append(warnings, err)
	}

	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		if opts.port < 0 || opts.port > 65535 {
			return nil, nil, fmt.Errorf("port must be 1-65535, got %d", opts.port)
		}
		cfg.Server.Port = opts.port
	}
	return cfg, warnings, nil
}

// newFactory selects the motor driver from cfg. The returned closer
// releases shared hardware once the session is closed.
func newFactory(cfg *config.Config) (motor.Factory, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Motor.Driver {
	case config.DriverStepper:
		debug.Value("Mock GPIO", cfg.Motor.MockGPIO)
		g, err := gpio.NewDriver(cfg.Motor.MockGPIO)
		if err != nil {
			return nil, noop, fmt.Errorf("init GPIO: %w", err)
		}
		return stepper.Factory(g, cfg.Motor.StepsPerRev, nil), g.Close, nil

	case config.DriverServo42:
		sc := cfg.Motor.Serial
		debug.Value("Serial device", sc.Device)
		debug.Value("Serial address", debug.Fmt("0x%02X", sc.Address))
		return servo42.Factory(serial.Open, serial.Config{
			Device:      sc.Device,
			Baud:        sc.Baud,
			ReadTimeout: time.Duration(sc.ReadTimeoutMs) * time.Millisecond,
		}, byte(sc.Address)), noop, nil

	default:
		return nil, noop, fmt.Errorf("unsupported motor driver: %q", cfg.Motor.Driver)
	}
}
