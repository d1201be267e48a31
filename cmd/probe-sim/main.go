// Command probe-sim wires the bed-probe subsystem to an in-memory
// hardware simulator and a Moonraker-compatible API server, the way
// the host's other cmd/ entries stand up a printer against simulated
// or real hardware for manual exercising.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"flag"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"klipper-go-migration/pkg/config"
	"klipper-go-migration/pkg/endstop"
	"klipper-go-migration/pkg/gohw"
	"klipper-go-migration/pkg/heater"
	"klipper-go-migration/pkg/log"
	"klipper-go-migration/pkg/metrics"
	"klipper-go-migration/pkg/moonraker"
	"klipper-go-migration/pkg/probe"
	"klipper-go-migration/pkg/safety"
	"klipper-go-migration/pkg/tmc"
)

var mainLog = log.New("probe-sim")

// openLog switches mainLog to a console+rotating-file logger when
// logFile is non-empty, the way a long-running probe-sim deployment
// would want its demo-probe/server diagnostics kept on disk instead of
// only in the terminal.
func openLog(logFile string) {
	if logFile == "" {
		return
	}
	logger, _, err := log.NewConsoleAndFileLogger("probe-sim", log.RotationConfig{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 5,
	})
	if err != nil {
		mainLog.Error("failed to open log file %s: %v", logFile, err)
		return
	}
	mainLog = logger
}

// demoProbeConfigText stands in for the [probe] section of a real
// printer.cfg: probe-sim loads it through the same config.Registry /
// RegisterModule path a full host uses, rather than hand-building a
// probe.Config literal.
const demoProbeConfigText = `[probe]
z_offset: 0
speed: 5
lift_speed: 2
probe_speed: 50
samples: 3
samples_result: 1
z_clearance_deploy_probe: 10
z_clearance_between_probes: 5
`

// simMotion is a minimal in-memory MotionAdapter/PlannerAdapter stand-in:
// moves complete instantly and a downward Z move that would cross the
// simulated bed height stops there and flips the simulated probe
// trigger, the way a real toolhead's planner aborts a probing move on
// endstop trigger.
type simMotion struct {
	mu   sync.Mutex
	hw   *gohw.Simulated
	pos  [3]float64
	bedZ float64
}

func (m *simMotion) DoBlockingMoveTo(pos [3]float64, feedrate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos[2] <= m.bedZ && m.pos[2] > m.bedZ {
		m.pos = [3]float64{pos[0], pos[1], m.bedZ}
		m.hw.Trigger(true)
		return nil
	}
	m.pos = pos
	m.hw.Trigger(false)
	return nil
}

func (m *simMotion) DoBlockingMoveToAxis(axis probe.Axis, coord, feedrate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos[axis] = coord
	return nil
}

func (m *simMotion) DoZClearance(zDest float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pos[2] < zDest {
		m.pos[2] = zDest
	}
	m.hw.Trigger(false)
	return nil
}

func (m *simMotion) SyncPlanPosition()                       {}
func (m *simMotion) SetCurrentFromSteppersForAxis(probe.Axis) {}
func (m *simMotion) AxisIsTrusted(probe.Axis) bool            { return true }
func (m *simMotion) CanReach([2]float64, bool) bool           { return true }
func (m *simMotion) DeltaClipHeight() (float64, bool)         { return 0, false }

func (m *simMotion) CurrentPosition() [3]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

func (m *simMotion) SetCurrentPosition(pos [3]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = pos
}

type simPlanner struct{}

func (simPlanner) HasBlocksQueued() bool { return false }

var (
	_ probe.MotionAdapter  = (*simMotion)(nil)
	_ probe.PlannerAdapter = simPlanner{}
)

func main() {
	addr := flag.String("addr", ":7125", "Moonraker-compatible API listen address")
	bedZ := flag.Float64("bed-z", 0.0, "simulated bed surface height, mm")
	configOut := flag.String("config-out", "", "path to persist the calibrated z_offset to after the demo probe (skipped if empty)")
	logFile := flag.String("log-file", "", "also write logs to this rotating file (skipped if empty)")
	flag.Parse()

	openLog(*logFile)

	hw := gohw.NewSimulated()

	motion := &simMotion{hw: hw, pos: [3]float64{0, 0, 10}, bedZ: *bedZ}
	planner := simPlanner{}

	zProbeEndstop := endstop.New(endstop.EndstopConfig{Name: "probe", Pin: "probe_pin"})
	zProbeEndstop.SetQueryCallback(func() (bool, error) { return hw.IsProbeTriggered(), nil })
	endstops := probe.NewEndstopHost(zProbeEndstop, nil, nil)

	bedHeater := heater.NewHeater(heater.DefaultHeaterConfig())
	hotend := heater.NewHeater(heater.DefaultHeaterConfig())
	thermal := probe.NewThermalHost(bedHeater, []*heater.Heater{hotend}, nil, nil, nil)

	safetyMgr := safety.New()
	stop := probe.NewStopHost(safetyMgr)

	steppers := probe.NewStepperHost(nil, nil)

	demoConfig, err := config.LoadString(demoProbeConfigText)
	if err != nil {
		mainLog.Error("failed to parse demo probe config: %v", err)
		os.Exit(1)
	}
	autosave := config.NewAutosaveConfig(demoConfig, *configOut)

	reg := config.NewRegistry()
	probe.RegisterModule(reg, false)
	modules, err := reg.LoadModules(autosave.Config)
	if err != nil {
		mainLog.Error("failed to load [probe] module: %v", err)
		os.Exit(1)
	}
	probeModule, ok := modules["probe"].(*probe.Module)
	if !ok {
		mainLog.Error("registry did not load a probe.Module for [probe]")
		os.Exit(1)
	}
	cfg := probeModule.Config
	settings := probeModule.Settings
	state := &probe.State{}

	drivers := map[probe.Axis]tmc.TMCDriver{
		probe.AxisZ: tmc.NewTMC2209("stepper_z", tmc.DefaultTMCConfig()),
	}
	driverHost := probe.NewDriverHost(drivers, map[probe.Axis]float64{probe.AxisZ: 0.9}, map[probe.Axis]int{probe.AxisZ: cfg.StallguardThreshold})

	printerAdapter := moonraker.NewPrinterAdapter()
	server := moonraker.New(moonraker.Config{Addr: *addr, Printer: printerAdapter})
	ui := moonraker.NewProbeStatusServer(server)
	printerAdapter.RegisterStatusProvider("probe", ui.ObjectStatus)

	recorder, err := probe.NewMetricsRecorder(metrics.DefaultRegistry())
	if err != nil {
		mainLog.Error("failed to register probe metrics: %v", err)
		os.Exit(1)
	}

	controller := probe.New(cfg, settings, state, motion, planner, endstops, thermal, driverHost, ui, stop, hw, steppers)
	controller.Rec = recorder

	mainLog.Info("probe-sim listening on %s (simulated bed at z=%.3f)", *addr, *bedZ)
	go func() {
		if err := server.Start(); err != nil {
			mainLog.Error("moonraker server exited: %v", err)
		}
	}()

	z := controller.ProbeAtPoint(0, 0, probe.Stow, false, true)
	mainLog.Info("demo probe result: z=%.4f", z)

	if !math.IsNaN(z) {
		rec := probe.ProbeRecord{ZOffset: z, SampleZHeight: z}
		if err := probe.SaveProbeRecord(autosave, "probe", rec); err != nil {
			mainLog.Error("failed to record probe calibration: %v", err)
		} else if *configOut != "" {
			if err := autosave.SaveChanges(*configOut); err != nil {
				mainLog.Error("failed to persist %s: %v", *configOut, err)
			} else {
				mainLog.Info("persisted calibrated z_offset to %s", *configOut)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("shutting down")
	_ = server.Stop()
}
