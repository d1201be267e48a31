package probe

// DelayBeforeProbing is the minimum settle delay EnvironmentGuard
// inserts after entry, letting mechanical and electrical transients
// die down before the first sample.
const DelayBeforeProbing = 25 // ms

// envGuardState is the restoration record EnvironmentGuard carries
// from entry to exit.
type envGuardState struct {
	heatersWerePaused bool
	fansWerePaused    bool
	eSteppersDisabled bool
	xySteppersDisabled bool
	axesTrustedX, axesTrustedY bool
	stallguard        [3]StallguardState
	stallguardAxes    [3]bool
}

// EnvironmentGuard pauses heaters/fans, reconfigures stepper driver
// modes, and asserts homing current for the duration of a probe cycle,
// guaranteeing restoration on every exit path. It mirrors the scoped
// acquire/release idiom pkg/safety.Manager uses for
// shutdown bookkeeping, specialized to a begin/end pair instead of a
// one-way transition.
type EnvironmentGuard struct {
	cfg *Config
	th  ThermalAdapter
	es  EndstopsAdapter
	dr  DriverAdapter
	mv  MotionAdapter
	hw  HardwareAdapter
	st  StepperAdapter
}

// NewEnvironmentGuard builds a guard over the given adapters. st may be
// nil if the hardware has no independent stepper-enable lines (e_steppers_off
// and xy_steppers_off are then inert).
func NewEnvironmentGuard(cfg *Config, th ThermalAdapter, es EndstopsAdapter, dr DriverAdapter, mv MotionAdapter, hw HardwareAdapter, st StepperAdapter) *EnvironmentGuard {
	return &EnvironmentGuard{cfg: cfg, th: th, es: es, dr: dr, mv: mv, hw: hw, st: st}
}

// active reports whether any environment-guard feature is enabled; when
// none are, begin/end are no-ops and the delay is skipped too.
func (g *EnvironmentGuard) active() bool {
	c := g.cfg
	return c.HeatersOffDuringProbe || c.FansOffDuringProbe || c.EStepperOff ||
		c.XYSteppersOff || c.Variant == Sensorless
}

func (g *EnvironmentGuard) begin() *envGuardState {
	st := &envGuardState{}
	if !g.active() {
		return st
	}

	if g.cfg.HeatersOffDuringProbe && g.th != nil {
		g.th.PauseHeaters(true)
		st.heatersWerePaused = true
	}
	if g.cfg.FansOffDuringProbe && g.th != nil {
		g.th.SetFansPaused(true)
		st.fansWerePaused = true
	}
	if g.cfg.EStepperOff && g.st != nil {
		g.st.SetExtruderEnabled(false)
		st.eSteppersDisabled = true
	}
	if g.cfg.XYSteppersOff && !g.cfg.IsDelta && g.mv != nil {
		st.axesTrustedX = g.mv.AxisIsTrusted(AxisX)
		st.axesTrustedY = g.mv.AxisIsTrusted(AxisY)
		if g.st != nil {
			g.st.SetEnabled(AxisX, false)
			g.st.SetEnabled(AxisY, false)
			st.xySteppersDisabled = true
		}
	}
	if g.cfg.Variant == Sensorless && g.dr != nil {
		for i, axis := range []Axis{AxisX, AxisY, AxisZ} {
			st.stallguardAxes[i] = true
			st.stallguard[i] = g.dr.EnableStallguard(axis)
		}
		if g.es != nil {
			g.es.SetHomingCurrent(true)
			g.es.Enable(true)
		}
	}

	if g.hw != nil {
		g.hw.SafeDelay(DelayBeforeProbing)
	}
	return st
}

func (g *EnvironmentGuard) end(st *envGuardState) {
	if st == nil {
		return
	}
	if g.es != nil && g.cfg.Variant == Sensorless {
		g.es.Enable(false)
	}
	for i, enabled := range st.stallguardAxes {
		if enabled && g.dr != nil {
			axis := []Axis{AxisX, AxisY, AxisZ}[i]
			g.dr.DisableStallguard(axis, st.stallguard[i])
		}
	}
	if g.cfg.Variant == Sensorless && g.es != nil {
		g.es.SetHomingCurrent(false)
	}

	if st.xySteppersDisabled && g.st != nil {
		// Re-enable only axes that were trusted before entry, restoring
		// the axes_trusted bitmap exactly.
		if st.axesTrustedX {
			g.st.SetEnabled(AxisX, true)
		}
		if st.axesTrustedY {
			g.st.SetEnabled(AxisY, true)
		}
	}
	if st.eSteppersDisabled && g.st != nil {
		g.st.SetExtruderEnabled(true)
	}

	if st.fansWerePaused && g.th != nil {
		g.th.SetFansPaused(false)
	}
	if st.heatersWerePaused && g.th != nil {
		g.th.PauseHeaters(false)
	}
}

// With runs fn inside the scoped environment, guaranteeing end() runs
// on every exit path including a panic, matching the guidance
// that a language without destructors should model EnvironmentGuard as
// "an enclosing function that always runs cleanup before returning".
func (g *EnvironmentGuard) With(fn func() (float64, error)) (float64, error) {
	st := g.begin()
	defer g.end(st)
	return fn()
}
