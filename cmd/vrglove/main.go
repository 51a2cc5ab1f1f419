package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/gwillem/vrglove/pkg/config"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"vrglove.yaml" description:"Configuration file"`
	Debug   bool   `long:"debug" description:"Enable debug logging"`
	LogFile string `long:"log-file" description:"Also write logs to this file, rotated"`

	Calibrate   CalibrateCommand   `command:"calibrate" alias:"calib" description:"Calibrate the glove against a set of hand poses"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Drive the simulated hand from VR controllers and the glove"`
	View        ViewCommand        `command:"view" description:"Show live raw and calibrated glove readings"`
	Ports       PortsCommand       `command:"ports" description:"List serial ports"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "vrglove - CyberGlove calibration and VR teleoperation of a simulated hand"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flags. With tui
// set, log output only goes to the log file so it does not garble the screen.
func loadConfig(tui bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, nil, err
	}
	if opts.Debug {
		cfg.Log.Debug = true
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", opts.Config, err)
	}

	logger, err := newLogger(cfg.Log, tui)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
