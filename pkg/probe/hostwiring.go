package probe

import (
	"klipper-go-migration/pkg/endstop"
	"klipper-go-migration/pkg/heater"
	"klipper-go-migration/pkg/safety"
	"klipper-go-migration/pkg/tmc"
)

// EndstopHost implements EndstopsAdapter over the host's real endstop
// module: a dedicated Z-min-probe endstop plus, on delta machines, the
// per-tower max endstops a sensorless probe reads triggers from.
type EndstopHost struct {
	zProbe  *endstop.Endstop
	towers  *endstop.EndstopGroup // nil on non-delta machines
	homing  bool
	current float64

	activationSwitch *endstop.Endstop // optional probe-activation switch for tare
}

// NewEndstopHost wires a Z-min-probe endstop (and, for delta sensorless
// probing, a tower endstop group) into an EndstopsAdapter.
func NewEndstopHost(zProbe *endstop.Endstop, towers *endstop.EndstopGroup, activationSwitch *endstop.Endstop) *EndstopHost {
	return &EndstopHost{zProbe: zProbe, towers: towers, activationSwitch: activationSwitch}
}

func (h *EndstopHost) Enable(enable bool) {
	if !enable {
		h.zProbe.StopHoming()
		if h.towers != nil {
			h.towers.StopHomingAll()
		}
		return
	}
	_ = h.zProbe.StartHoming(1)
	if h.towers != nil {
		_ = h.towers.StartHomingAll(1)
	}
}

func (h *EndstopHost) NotHoming() bool { return !h.homing }

func (h *EndstopHost) HitOnPurpose() {
	// Clears the "unexpected trigger" bookkeeping the tare sequence
	// relies on; the Go endstop module has no separate flag for this,
	// so a state re-query is sufficient.
	_, _ = h.zProbe.Query()
}

// EnableZProbe arms or disarms the dedicated Z-min-probe endstop
// channel around a deploy/stow, independent of the towers group.
func (h *EndstopHost) EnableZProbe(enable bool) {
	if enable {
		_ = h.zProbe.StartHoming(1)
	} else {
		h.zProbe.StopHoming()
	}
}

func (h *EndstopHost) TriggerState() EndstopBits {
	// Opportunistically refresh from a polling query callback (the way
	// the towers group already does via QueryAll); a push-model probe
	// with no callback set just keeps whatever HandleTrigger last
	// latched, since Query() leaves state untouched on error.
	_, _ = h.zProbe.Query()
	bits := EndstopBits{ZMinProbe: h.zProbe.IsTriggered()}
	if h.towers != nil {
		triggered, _ := h.towers.QueryAll()
		for _, e := range triggered {
			switch e.GetName() {
			case "stepper_a", "tower_x":
				bits.XMax = true
			case "stepper_b", "tower_y":
				bits.YMax = true
			case "stepper_c", "tower_z":
				bits.ZMax = true
			}
		}
	}
	return bits
}

func (h *EndstopHost) ClearLatch() {
	_, _ = h.zProbe.Query()
	if h.towers != nil {
		_, _ = h.towers.QueryAll()
	}
}

func (h *EndstopHost) SetHomingCurrent(enable bool) { h.homing = enable }

func (h *EndstopHost) ProbeSwitchActivated() bool {
	if h.activationSwitch == nil {
		return false
	}
	return h.activationSwitch.IsTriggered()
}

var _ EndstopsAdapter = (*EndstopHost)(nil)

// ThermalHost implements ThermalAdapter over the host's real heater
// module, one Heater per hotend index plus a dedicated bed heater.
type ThermalHost struct {
	bed      *heater.Heater
	hotends  []*heater.Heater
	fansOff  func(pause bool)
	waitBed  func() error
	waitHotend func(idx int) error
}

// NewThermalHost wires bed and hotend Heaters (plus optional fan-pause
// and wait callbacks supplied by the caller's temperature-stabilization
// loop) into a ThermalAdapter.
func NewThermalHost(bed *heater.Heater, hotends []*heater.Heater, fansOff func(bool), waitBed func() error, waitHotend func(int) error) *ThermalHost {
	return &ThermalHost{bed: bed, hotends: hotends, fansOff: fansOff, waitBed: waitBed, waitHotend: waitHotend}
}

func (t *ThermalHost) PauseHeaters(pause bool) {
	if pause {
		if t.bed != nil {
			_ = t.bed.Disable()
		}
		for _, h := range t.hotends {
			_ = h.Disable()
		}
		return
	}
	// Resuming a paused heater means restoring its prior target, which
	// this adapter doesn't track; callers that need resume-to-target
	// semantics should re-issue SetTargetBed/SetTargetHotend themselves.
}

func (t *ThermalHost) SetFansPaused(pause bool) {
	if t.fansOff != nil {
		t.fansOff(pause)
	}
}

func (t *ThermalHost) WaitForHotend(idx int) error {
	if t.waitHotend != nil {
		return t.waitHotend(idx)
	}
	return nil
}

func (t *ThermalHost) WaitForBedHeating() error {
	if t.waitBed != nil {
		return t.waitBed()
	}
	return nil
}

func (t *ThermalHost) DegTargetHotend(idx int) float64 {
	if idx < 0 || idx >= len(t.hotends) {
		return 0
	}
	return t.hotends[idx].GetTarget()
}

func (t *ThermalHost) DegTargetBed() float64 {
	if t.bed == nil {
		return 0
	}
	return t.bed.GetTarget()
}

func (t *ThermalHost) SetTargetHotend(target float64, idx int) {
	if idx < 0 || idx >= len(t.hotends) {
		return
	}
	_ = t.hotends[idx].SetTarget(target)
}

func (t *ThermalHost) SetTargetBed(target float64) {
	if t.bed != nil {
		_ = t.bed.SetTarget(target)
	}
}

func (t *ThermalHost) WholeDegHotend(idx int) float64 {
	if idx < 0 || idx >= len(t.hotends) {
		return 0
	}
	return t.hotends[idx].GetStatus().Temperature
}

func (t *ThermalHost) WholeDegBed() float64 {
	if t.bed == nil {
		return 0
	}
	return t.bed.GetStatus().Temperature
}

var _ ThermalAdapter = (*ThermalHost)(nil)

// DriverHost implements DriverAdapter over the host's TMC driver
// registry, toggling StealthChop off and raising current to a homing
// level the way sensorless (stallGuard) probing needs, and restoring
// both on exit.
type DriverHost struct {
	drivers        map[Axis]tmc.TMCDriver
	homingCurrent  map[Axis]float64
	stallThreshold map[Axis]int
}

// NewDriverHost wires one TMC driver per sensorless-probed axis, along
// with the homing current and StallGuard sensitivity (TMC2209's SGTHRS
// register) each axis should switch to while probing.
func NewDriverHost(drivers map[Axis]tmc.TMCDriver, homingCurrent map[Axis]float64, stallThreshold map[Axis]int) *DriverHost {
	return &DriverHost{drivers: drivers, homingCurrent: homingCurrent, stallThreshold: stallThreshold}
}

func (d *DriverHost) EnableStallguard(axis Axis) StallguardState {
	drv, ok := d.drivers[axis]
	if !ok {
		return StallguardState{}
	}
	prior := StallguardState{PriorCurrent: drv.GetCurrent()}
	if sg, ok := drv.(interface{ SetStealthChop(bool) error }); ok {
		// en_spreadcycle == 0 means StealthChop is currently on.
		prior.StealthChopWasEnabled = drv.GetFields().GetField("en_spreadcycle", nil, "GCONF") == 0
		_ = sg.SetStealthChop(false)
	}
	if threshold, ok := d.stallThreshold[axis]; ok {
		if sg, ok := drv.(interface{ SetStallThreshold(int) error }); ok {
			_ = sg.SetStallThreshold(threshold)
		}
	}
	if cur, ok := d.homingCurrent[axis]; ok {
		_ = drv.SetCurrent(cur, 1.0)
	}
	return prior
}

func (d *DriverHost) DisableStallguard(axis Axis, prior StallguardState) {
	drv, ok := d.drivers[axis]
	if !ok {
		return
	}
	if sg, ok := drv.(interface{ SetStealthChop(bool) error }); ok && prior.StealthChopWasEnabled {
		_ = sg.SetStealthChop(true)
	}
	_ = drv.SetCurrent(prior.PriorCurrent, 1.0)
}

var _ DriverAdapter = (*DriverHost)(nil)

// StopHost implements StopAdapter over the host's safety Manager.
type StopHost struct {
	mgr *safety.Manager
}

// NewStopHost wires a safety.Manager into a StopAdapter.
func NewStopHost(mgr *safety.Manager) *StopHost { return &StopHost{mgr: mgr} }

func (s *StopHost) Fault(msg string) error { return s.mgr.ProbeFault(msg) }

var _ StopAdapter = (*StopHost)(nil)

// StepperHost implements StepperAdapter over per-axis and extruder
// enable callbacks, the way NewPrinterAdapter wires host-specific
// behavior through plain function fields rather than a fixed
// concrete stepper type: motor enable lines are a property of each
// kinematics' step-compression backend, not of the probe subsystem.
type StepperHost struct {
	setEnabled         func(axis Axis, enabled bool)
	setExtruderEnabled func(enabled bool)
}

// NewStepperHost wires per-axis and extruder enable callbacks into a
// StepperAdapter.
func NewStepperHost(setEnabled func(Axis, bool), setExtruderEnabled func(bool)) *StepperHost {
	return &StepperHost{setEnabled: setEnabled, setExtruderEnabled: setExtruderEnabled}
}

func (s *StepperHost) SetEnabled(axis Axis, enabled bool) {
	if s.setEnabled != nil {
		s.setEnabled(axis, enabled)
	}
}

func (s *StepperHost) SetExtruderEnabled(enabled bool) {
	if s.setExtruderEnabled != nil {
		s.setExtruderEnabled(enabled)
	}
}

var _ StepperAdapter = (*StepperHost)(nil)
