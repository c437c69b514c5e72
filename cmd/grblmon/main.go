// grblmon connects to a GRBL-class controller, polls its status and prints
// state changes, health warnings and the machine position until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/thawkins/gcodekit/grbl"
	"github.com/thawkins/gcodekit/grblconn"
	"github.com/thawkins/gcodekit/logger"
)

type config struct {
	Device       string
	Baud         int
	Flavor       string
	Interval     int // milliseconds
	AutoRecovery bool
	Debug        bool
}

func loadConfig() (config, error) {
	cfg := config{
		Baud:         115200,
		Flavor:       "grbl",
		Interval:     250,
		AutoRecovery: true,
	}

	flag.String("device", "", "serial device path, e.g. /dev/ttyUSB0")
	flag.Int("baud", cfg.Baud, "serial baud rate")
	flag.String("flavor", cfg.Flavor, "controller flavor: grbl, smoothieware, tinyg, g2core, fluidnc")
	flag.Int("interval", cfg.Interval, "status poll interval in milliseconds")
	flag.Bool("autorecovery", cfg.AutoRecovery, "execute recovery actions automatically")
	flag.Bool("debug", cfg.Debug, "enable debug logging")
	flag.Parse()

	viper.SetConfigName("grblmon.conf")
	viper.SetConfigType("toml")
	viper.AddConfigPath("/etc")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}

	// flags override the config file
	flag.Visit(func(f *flag.Flag) {
		viper.Set(f.Name, f.Value.String())
	})

	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Device == "" {
		return cfg, fmt.Errorf("no serial device configured, use --device or grblmon.conf")
	}

	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.GetLogger()
	if cfg.Debug {
		logger.SetLevel(logger.DebugLevel)
	}

	flavor, err := grbl.ParseFlavor(cfg.Flavor)
	if err != nil {
		return err
	}

	connCfg, err := grblconn.NewConnectionConfig(cfg.Device,
		grblconn.WithBaudRate(cfg.Baud),
		grblconn.WithFlavor(flavor),
		grblconn.WithQueryInterval(time.Duration(cfg.Interval)*time.Millisecond),
		grblconn.WithAutoRecovery(cfg.AutoRecovery),
		grblconn.WithLogger(log),
	)
	if err != nil {
		return err
	}

	conn, err := grblconn.NewConnection(connCfg)
	if err != nil {
		return err
	}

	conn.AddStateHandler(func(prev, next grblconn.ConnState) {
		log.Info("connection state changed", "from", prev.String(), "to", next.String())
	})

	if err := conn.Open(); err != nil {
		return err
	}
	defer conn.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := time.NewTicker(2 * time.Second)
	defer report.Stop()

	var lastState grbl.MachineState
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil

		case <-report.C:
			status := conn.Status()
			if status == nil {
				continue
			}

			if status.State != lastState {
				log.Info("machine state changed", "from", lastState.String(), "to", status.State.String())
				lastState = status.State
			}

			log.Info("status",
				"state", status.State.String(),
				"x", status.MachinePos.X,
				"y", status.MachinePos.Y,
				"z", status.MachinePos.Z,
				"feed", status.FeedSpeed.FeedRate,
				"spindle", status.FeedSpeed.SpindleSpeed,
			)

			for _, issue := range conn.OptimizationSuggestions() {
				log.Warn("health warning", "issue", issue)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "grblmon:", err)
		os.Exit(1)
	}
}
