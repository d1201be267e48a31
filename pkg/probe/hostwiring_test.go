package probe

import (
	"testing"

	"klipper-go-migration/pkg/endstop"
	"klipper-go-migration/pkg/heater"
	"klipper-go-migration/pkg/safety"
	"klipper-go-migration/pkg/tmc"
)

func TestEndstopHostTriggerStateZMinProbe(t *testing.T) {
	zProbe := endstop.New(endstop.EndstopConfig{Name: "probe", Pin: "probe_pin"})
	h := NewEndstopHost(zProbe, nil, nil)

	if h.TriggerState().ZMinProbe {
		t.Fatalf("TriggerState().ZMinProbe = true before any trigger")
	}
	zProbe.HandleTrigger(1)
	if !h.TriggerState().ZMinProbe {
		t.Fatalf("TriggerState().ZMinProbe = false after HandleTrigger")
	}
}

func TestEndstopHostTriggerStatePollsQueryCallback(t *testing.T) {
	zProbe := endstop.New(endstop.EndstopConfig{Name: "probe", Pin: "probe_pin"})
	triggered := false
	zProbe.SetQueryCallback(func() (bool, error) { return triggered, nil })
	h := NewEndstopHost(zProbe, nil, nil)

	if h.TriggerState().ZMinProbe {
		t.Fatalf("TriggerState().ZMinProbe = true before the callback reports a trigger")
	}
	triggered = true
	if !h.TriggerState().ZMinProbe {
		t.Fatalf("TriggerState().ZMinProbe = false after the callback reports a trigger")
	}
}

func TestEndstopHostTowersMapToAxisBits(t *testing.T) {
	zProbe := endstop.New(endstop.EndstopConfig{Name: "probe", Pin: "probe_pin"})
	towerY := endstop.New(endstop.EndstopConfig{Name: "stepper_b", Pin: "tower_b_pin"})
	towerY.SetQueryCallback(func() (bool, error) { return true, nil })
	towerX := endstop.New(endstop.EndstopConfig{Name: "stepper_a", Pin: "tower_a_pin"})
	towerX.SetQueryCallback(func() (bool, error) { return false, nil })

	group := endstop.NewEndstopGroup("towers")
	group.Add(towerX)
	group.Add(towerY)

	h := NewEndstopHost(zProbe, group, nil)
	bits := h.TriggerState()
	if bits.XMax {
		t.Fatalf("bits.XMax = true, want false")
	}
	if !bits.YMax {
		t.Fatalf("bits.YMax = false, want true")
	}
}

func TestEndstopHostProbeSwitchActivated(t *testing.T) {
	zProbe := endstop.New(endstop.EndstopConfig{Name: "probe", Pin: "probe_pin"})
	h := NewEndstopHost(zProbe, nil, nil)
	if h.ProbeSwitchActivated() {
		t.Fatalf("ProbeSwitchActivated() = true with no activation switch configured")
	}

	activation := endstop.New(endstop.EndstopConfig{Name: "probe_active", Pin: "active_pin"})
	h2 := NewEndstopHost(zProbe, nil, activation)
	if h2.ProbeSwitchActivated() {
		t.Fatalf("ProbeSwitchActivated() = true before trigger")
	}
	activation.HandleTrigger(1)
	if !h2.ProbeSwitchActivated() {
		t.Fatalf("ProbeSwitchActivated() = false after trigger")
	}
}

func TestThermalHostTargetsAndTemperatures(t *testing.T) {
	bed := heater.NewHeater(heater.DefaultHeaterConfig())
	hotend := heater.NewHeater(heater.DefaultHeaterConfig())
	th := NewThermalHost(bed, []*heater.Heater{hotend}, nil, nil, nil)

	th.SetTargetBed(60)
	th.SetTargetHotend(200, 0)
	if th.DegTargetBed() != 60 {
		t.Fatalf("DegTargetBed() = %v, want 60", th.DegTargetBed())
	}
	if th.DegTargetHotend(0) != 200 {
		t.Fatalf("DegTargetHotend() = %v, want 200", th.DegTargetHotend(0))
	}
}

func TestThermalHostPauseHeatersDisables(t *testing.T) {
	bed := heater.NewHeater(heater.DefaultHeaterConfig())
	th := NewThermalHost(bed, nil, nil, nil, nil)
	th.SetTargetBed(60)

	th.PauseHeaters(true)
	if bed.GetTarget() != 0 {
		t.Fatalf("expected Disable() to zero the heater target, got %v", bed.GetTarget())
	}
}

func TestThermalHostFanCallback(t *testing.T) {
	var pausedCalls []bool
	th := NewThermalHost(nil, nil, func(p bool) { pausedCalls = append(pausedCalls, p) }, nil, nil)
	th.SetFansPaused(true)
	th.SetFansPaused(false)
	if len(pausedCalls) != 2 || pausedCalls[0] != true || pausedCalls[1] != false {
		t.Fatalf("fan pause calls = %v, want [true false]", pausedCalls)
	}
}

func TestDriverHostEnableDisableStallguardRestoresCurrent(t *testing.T) {
	drv := tmc.NewTMC2209("stepper_z", tmc.DefaultTMCConfig())
	_ = drv.SetCurrent(0.9, 1.0)
	// The TMC2209 quantizes current to its CS register steps, so compare
	// against what a driver reports after the same SetCurrent call.
	initial := drv.GetCurrent()
	ref := tmc.NewTMC2209("ref", tmc.DefaultTMCConfig())
	_ = ref.SetCurrent(0.3, 1.0)
	homing := ref.GetCurrent()
	drivers := map[Axis]tmc.TMCDriver{AxisZ: drv}
	dh := NewDriverHost(drivers, map[Axis]float64{AxisZ: 0.3}, nil)

	prior := dh.EnableStallguard(AxisZ)
	if drv.GetCurrent() != homing {
		t.Fatalf("GetCurrent() = %v, want homing current %v", drv.GetCurrent(), homing)
	}
	if prior.PriorCurrent != initial {
		t.Fatalf("prior.PriorCurrent = %v, want %v", prior.PriorCurrent, initial)
	}

	dh.DisableStallguard(AxisZ, prior)
	if drv.GetCurrent() != initial {
		t.Fatalf("GetCurrent() = %v, want restored %v", drv.GetCurrent(), initial)
	}
}

func TestDriverHostEnableStallguardSetsThreshold(t *testing.T) {
	drv := tmc.NewTMC2209("stepper_z", tmc.DefaultTMCConfig())
	drivers := map[Axis]tmc.TMCDriver{AxisZ: drv}
	dh := NewDriverHost(drivers, nil, map[Axis]int{AxisZ: 80})

	dh.EnableStallguard(AxisZ)

	val, err := drv.GetRegister("SGTHRS")
	if err != nil {
		t.Fatalf("GetRegister(SGTHRS) error = %v", err)
	}
	if val != 80 {
		t.Fatalf("SGTHRS = %v, want 80", val)
	}
}

func TestDriverHostUnknownAxisIsNoop(t *testing.T) {
	dh := NewDriverHost(map[Axis]tmc.TMCDriver{}, nil, nil)
	prior := dh.EnableStallguard(AxisX)
	if prior != (StallguardState{}) {
		t.Fatalf("EnableStallguard() on unmapped axis = %+v, want zero value", prior)
	}
	dh.DisableStallguard(AxisX, prior) // must not panic
}

func TestStopHostFaultInvokesSafetyManager(t *testing.T) {
	mgr := safety.New()
	sh := NewStopHost(mgr)

	if err := sh.Fault("deploy verify failed"); err != nil {
		t.Fatalf("Fault() error = %v", err)
	}
	if !mgr.IsShutdown() {
		t.Fatalf("expected safety manager to be shut down after Fault()")
	}
}

func TestStepperHostDelegatesToCallbacks(t *testing.T) {
	var gotAxis Axis
	var gotEnabled, gotExtruder bool
	sh := NewStepperHost(
		func(axis Axis, enabled bool) { gotAxis, gotEnabled = axis, enabled },
		func(enabled bool) { gotExtruder = enabled },
	)

	sh.SetEnabled(AxisY, false)
	if gotAxis != AxisY || gotEnabled {
		t.Fatalf("SetEnabled callback got (%v, %v), want (AxisY, false)", gotAxis, gotEnabled)
	}
	sh.SetExtruderEnabled(true)
	if !gotExtruder {
		t.Fatalf("SetExtruderEnabled callback not invoked with true")
	}
}

func TestStepperHostNilCallbacksAreNoop(t *testing.T) {
	sh := NewStepperHost(nil, nil)
	sh.SetEnabled(AxisX, true) // must not panic
	sh.SetExtruderEnabled(false)
}
