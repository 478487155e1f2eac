package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OCAP2/vehiclesim/internal/config"
	"github.com/OCAP2/vehiclesim/internal/geo"
	"github.com/OCAP2/vehiclesim/internal/handlers"
	"github.com/OCAP2/vehiclesim/internal/logging"
	"github.com/OCAP2/vehiclesim/internal/netcode"
	"github.com/OCAP2/vehiclesim/internal/sim"
	"github.com/OCAP2/vehiclesim/internal/vehicle"
)

// node is one simulation: a clock over its own world with the scene built in.
type node struct {
	role  string
	tm    *netcode.TimeManager
	scene *handlers.Scene
	trace *logging.StateTrace
}

func newNode(role string, simCfg config.SimConfig, sceneCfg config.SceneConfig, trace bool, logger *slog.Logger) (*node, error) {
	n := &node{role: role, trace: logging.NewStateTrace(trace)}
	ctx := sim.New(simCfg.TickDelta(), simCfg.Gravity,
		sim.WithSurfaces(handlers.SurfaceTable(sceneCfg)),
		sim.WithTimeScale(simCfg.TimeScale),
		sim.WithTrace(n.trace),
	)
	scene, err := handlers.BuildScene(ctx, sceneCfg)
	if err != nil {
		return nil, err
	}
	n.scene = scene
	n.tm = netcode.NewTimeManager(ctx, logger.With("role", role))
	return n, nil
}

// deps fills the service dependencies every role shares.
func (n *node) deps(simCfg config.SimConfig, frame *geo.Frame, logger *slog.Logger) (handlers.Dependencies, error) {
	defs, err := definitions(simCfg)
	if err != nil {
		return handlers.Dependencies{}, err
	}
	cfg := netcode.DefaultConfig()
	if simCfg.ReconcileTickStep > 0 {
		cfg.ReconcileTickStep = simCfg.ReconcileTickStep
	}
	if simCfg.SmoothingDuration > 0 {
		cfg.SmoothingDuration = simCfg.SmoothingDuration
	}
	return handlers.Dependencies{
		Logger:          logger.With("role", n.role),
		Time:            n.tm,
		Frame:           frame,
		Config:          cfg,
		ObjectSmoothing: simCfg.ObjectSmoothingDuration,
		Definitions:     defs,
		Preset:          simCfg.Preset,
		Version:         CurrentVersion,
	}, nil
}

// saveTrace writes the state trace of the node next to the log file.
func (n *node) saveTrace(logger *slog.Logger, started time.Time) {
	if !n.trace.Enabled() {
		return
	}
	path := logging.TracePath(viper.GetString("logsDir"), n.role, started)
	if err := n.trace.Save(path); err != nil {
		logger.Error("Failed to save state trace", "error", err, "path", path)
		return
	}
	logger.Info("State trace saved", "path", path, "lines", len(n.trace.Lines()))
}

// definitions resolves presets. A vehicle file replaces the preset it is based on and
// answers to its own name.
func definitions(simCfg config.SimConfig) (func(string) (vehicle.Definition, error), error) {
	if simCfg.VehicleFile == "" {
		return vehicle.Preset, nil
	}
	v := viper.New()
	v.SetConfigFile(simCfg.VehicleFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read vehicle file: %w", err)
	}
	def, err := vehicle.LoadDefinition(v, "vehicle")
	if err != nil {
		return nil, err
	}
	base := strings.ToLower(v.GetString("vehicle.preset"))
	if base == "" {
		base = vehicle.PresetCar
	}
	return func(preset string) (vehicle.Definition, error) {
		p := strings.ToLower(strings.TrimSpace(preset))
		if p == "" {
			p = vehicle.PresetCar
		}
		if p == base || (def.Name != "" && p == strings.ToLower(def.Name)) {
			return def, nil
		}
		return vehicle.Preset(preset)
	}, nil
}
