package probe

import "testing"

func TestEnvironmentGuardInactiveWhenNoFeaturesEnabled(t *testing.T) {
	cfg := baseConfig()
	g := NewEnvironmentGuard(cfg, &fakeThermal{}, &fakeEndstops{}, newFakeDriver(), newFakeMotion(), newFakeHW(), newFakeSteppers())

	if g.active() {
		t.Fatalf("active() = true, want false")
	}
	st := g.begin()
	if st == nil {
		t.Fatalf("begin() returned nil")
	}
}

func TestEnvironmentGuardPausesHeatersAndFans(t *testing.T) {
	cfg := baseConfig()
	cfg.HeatersOffDuringProbe = true
	cfg.FansOffDuringProbe = true
	th := &fakeThermal{}
	hw := newFakeHW()
	g := NewEnvironmentGuard(cfg, th, &fakeEndstops{}, newFakeDriver(), newFakeMotion(), hw, newFakeSteppers())

	st := g.begin()
	if !th.paused || !th.fansPaused {
		t.Fatalf("heaters/fans not paused: paused=%v fansPaused=%v", th.paused, th.fansPaused)
	}
	if hw.delays == 0 {
		t.Fatalf("expected settle delay, got none")
	}

	g.end(st)
	if th.paused || th.fansPaused {
		t.Fatalf("heaters/fans not restored: paused=%v fansPaused=%v", th.paused, th.fansPaused)
	}
}

func TestEnvironmentGuardEStepperOff(t *testing.T) {
	cfg := baseConfig()
	cfg.EStepperOff = true
	st := newFakeSteppers()
	g := NewEnvironmentGuard(cfg, &fakeThermal{}, &fakeEndstops{}, newFakeDriver(), newFakeMotion(), newFakeHW(), st)

	gst := g.begin()
	if st.extruderEnabled {
		t.Fatalf("extruder should be disabled during guard")
	}
	g.end(gst)
	if !st.extruderEnabled {
		t.Fatalf("extruder should be re-enabled after guard")
	}
}

func TestEnvironmentGuardXYStepperOffRestoresOnlyTrustedAxes(t *testing.T) {
	cfg := baseConfig()
	cfg.XYSteppersOff = true
	mv := newFakeMotion()
	mv.trusted = [3]bool{true, false, true} // X trusted, Y not
	steppers := newFakeSteppers()
	g := NewEnvironmentGuard(cfg, &fakeThermal{}, &fakeEndstops{}, newFakeDriver(), mv, newFakeHW(), steppers)

	gst := g.begin()
	if steppers.enabled[AxisX] || steppers.enabled[AxisY] {
		t.Fatalf("expected both axes disabled during guard, got %v", steppers.enabled)
	}
	g.end(gst)
	if !steppers.enabled[AxisX] {
		t.Fatalf("expected X re-enabled (was trusted)")
	}
	if steppers.enabled[AxisY] {
		t.Fatalf("expected Y to stay disabled (was not trusted before entry)")
	}
}

func TestEnvironmentGuardSensorlessArmsAndDisarmsStallguard(t *testing.T) {
	cfg := baseConfig()
	cfg.Variant = Sensorless
	dr := newFakeDriver()
	es := &fakeEndstops{}
	g := NewEnvironmentGuard(cfg, &fakeThermal{}, es, dr, newFakeMotion(), newFakeHW(), newFakeSteppers())

	if !g.active() {
		t.Fatalf("active() = false, want true for Sensorless variant")
	}
	gst := g.begin()
	for _, axis := range []Axis{AxisX, AxisY, AxisZ} {
		if !dr.enabledAxes[axis] {
			t.Fatalf("stallguard not enabled for axis %v", axis)
		}
	}
	if !es.enabled || !es.homingCurrent {
		t.Fatalf("expected endstops enabled and homing current asserted, got enabled=%v homingCurrent=%v", es.enabled, es.homingCurrent)
	}

	g.end(gst)
	for _, axis := range []Axis{AxisX, AxisY, AxisZ} {
		if dr.enabledAxes[axis] {
			t.Fatalf("stallguard not disabled for axis %v", axis)
		}
	}
	if es.homingCurrent {
		t.Fatalf("expected homing current cleared after guard")
	}
}

func TestEnvironmentGuardWithRunsCleanupOnError(t *testing.T) {
	cfg := baseConfig()
	cfg.HeatersOffDuringProbe = true
	th := &fakeThermal{}
	g := NewEnvironmentGuard(cfg, th, &fakeEndstops{}, newFakeDriver(), newFakeMotion(), newFakeHW(), newFakeSteppers())

	_, err := g.With(func() (float64, error) {
		return NaN, errDummy
	})
	if err != errDummy {
		t.Fatalf("With() error = %v, want errDummy", err)
	}
	if th.paused {
		t.Fatalf("expected heaters restored even though fn returned an error")
	}
}
