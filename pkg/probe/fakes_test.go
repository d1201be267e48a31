package probe

import "errors"

var errDummy = errors.New("probe: test error")

// Hand-rolled test doubles for the adapter interfaces, in the style of
// pkg/endstop/endstop_test.go's fake MCU callbacks: small structs that
// record calls and return canned values, no mocking framework.

type pinWrite struct {
	id    string
	level PinLevel
}

type fakeHW struct {
	pins      map[string]PinLevel
	writes    []pinWrite
	servo     map[string]float64
	triggered bool
	endstops  EndstopBits
	delays    int
}

func newFakeHW() *fakeHW {
	return &fakeHW{pins: map[string]PinLevel{}, servo: map[string]float64{}}
}

func (f *fakeHW) WritePin(id string, level PinLevel) {
	f.pins[id] = level
	f.writes = append(f.writes, pinWrite{id, level})
}
func (f *fakeHW) ReadPin(id string) PinLevel            { return f.pins[id] }
func (f *fakeHW) DelayMs(n int)                         { f.delays++ }
func (f *fakeHW) SafeDelay(n int)                       { f.delays++ }
func (f *fakeHW) ServoMove(id string, angleDeg float64) { f.servo[id] = angleDeg }
func (f *fakeHW) IsProbeTriggered() bool                { return f.triggered }
func (f *fakeHW) EndstopTriggerState() EndstopBits       { return f.endstops }

// fakeMotion drives each successive descent move to one of a scripted
// list of trigger heights, consumed in order: the Nth DoBlockingMoveTo
// call that carries a descending Z stops at triggerHeights[N] and
// latches the attached fakeEndstops. Once the list is exhausted, moves
// complete at the requested target without triggering.
type fakeMotion struct {
	pos            [3]float64
	trusted        [3]bool
	canReach       bool
	deltaClip      float64
	isDelta        bool
	moveErr        error
	triggerHeights []float64
	triggerIdx     int
	es             *fakeEndstops
}

func newFakeMotion() *fakeMotion {
	return &fakeMotion{
		trusted:  [3]bool{true, true, true},
		canReach: true,
	}
}

func (m *fakeMotion) DoBlockingMoveTo(pos [3]float64, feedrate float64) error {
	if m.moveErr != nil {
		return m.moveErr
	}
	if m.es != nil && pos[2] < m.pos[2] && m.triggerIdx < len(m.triggerHeights) {
		h := m.triggerHeights[m.triggerIdx]
		m.triggerIdx++
		m.pos = [3]float64{pos[0], pos[1], h}
		m.es.bits.ZMinProbe = true
		return nil
	}
	m.pos = pos
	return nil
}

func (m *fakeMotion) DoBlockingMoveToAxis(axis Axis, coord, feedrate float64) error {
	m.pos[axis] = coord
	return nil
}

func (m *fakeMotion) DoZClearance(zDest float64) error {
	if zDest > m.pos[2] {
		m.pos[2] = zDest
	}
	return nil
}

func (m *fakeMotion) SyncPlanPosition()                       {}
func (m *fakeMotion) SetCurrentFromSteppersForAxis(Axis)       {}
func (m *fakeMotion) CurrentPosition() [3]float64              { return m.pos }
func (m *fakeMotion) SetCurrentPosition(pos [3]float64)        { m.pos = pos }
func (m *fakeMotion) AxisIsTrusted(axis Axis) bool              { return m.trusted[axis] }
func (m *fakeMotion) CanReach(xy [2]float64, rel bool) bool     { return m.canReach }
func (m *fakeMotion) DeltaClipHeight() (float64, bool)          { return m.deltaClip, m.isDelta }

type fakePlanner struct{ queued bool }

func (p *fakePlanner) HasBlocksQueued() bool { return p.queued }

type fakeEndstops struct {
	bits            EndstopBits
	switchActivated bool
	enabled         bool
	homingCurrent   bool
}

func (e *fakeEndstops) Enable(enable bool)            { e.enabled = enable }
func (e *fakeEndstops) NotHoming() bool               { return !e.enabled }
func (e *fakeEndstops) HitOnPurpose()                 {}
func (e *fakeEndstops) EnableZProbe(enable bool)       {}
func (e *fakeEndstops) TriggerState() EndstopBits      { return e.bits }
func (e *fakeEndstops) ClearLatch()                   { e.bits = EndstopBits{} }
func (e *fakeEndstops) SetHomingCurrent(enable bool)  { e.homingCurrent = enable }
func (e *fakeEndstops) ProbeSwitchActivated() bool    { return e.switchActivated }

type fakeThermal struct {
	targetHotend, targetBed float64
	paused, fansPaused      bool
}

func (t *fakeThermal) PauseHeaters(pause bool)         { t.paused = pause }
func (t *fakeThermal) SetFansPaused(pause bool)        { t.fansPaused = pause }
func (t *fakeThermal) WaitForHotend(idx int) error     { return nil }
func (t *fakeThermal) WaitForBedHeating() error        { return nil }
func (t *fakeThermal) DegTargetHotend(idx int) float64 { return t.targetHotend }
func (t *fakeThermal) DegTargetBed() float64           { return t.targetBed }
func (t *fakeThermal) SetTargetHotend(v float64, idx int) { t.targetHotend = v }
func (t *fakeThermal) SetTargetBed(v float64)          { t.targetBed = v }
func (t *fakeThermal) WholeDegHotend(idx int) float64  { return t.targetHotend }
func (t *fakeThermal) WholeDegBed() float64            { return t.targetBed }

type fakeDriver struct{ enabledAxes map[Axis]bool }

func newFakeDriver() *fakeDriver { return &fakeDriver{enabledAxes: map[Axis]bool{}} }

func (d *fakeDriver) EnableStallguard(axis Axis) StallguardState {
	d.enabledAxes[axis] = true
	return StallguardState{PriorCurrent: 0.8}
}
func (d *fakeDriver) DisableStallguard(axis Axis, prior StallguardState) {
	d.enabledAxes[axis] = false
}

type fakeUI struct {
	messages, alerts []string
	beeps            []BeepKind
	confirmResult    bool
}

func (u *fakeUI) StatusMessage(msg string) { u.messages = append(u.messages, msg) }
func (u *fakeUI) Alert(msg string)         { u.alerts = append(u.alerts, msg) }
func (u *fakeUI) Confirm(prompt string) <-chan bool {
	ch := make(chan bool, 1)
	ch <- u.confirmResult
	return ch
}
func (u *fakeUI) Beep(kind BeepKind) { u.beeps = append(u.beeps, kind) }

type fakeStop struct {
	faults []string
}

func (s *fakeStop) Fault(msg string) error {
	s.faults = append(s.faults, msg)
	return nil
}

type fakeSteppers struct {
	enabled         map[Axis]bool
	extruderEnabled bool
}

func newFakeSteppers() *fakeSteppers { return &fakeSteppers{enabled: map[Axis]bool{}} }

func (s *fakeSteppers) SetEnabled(axis Axis, enabled bool) { s.enabled[axis] = enabled }
func (s *fakeSteppers) SetExtruderEnabled(enabled bool)    { s.extruderEnabled = enabled }

type fakeRecorder struct {
	samples  []float64
	results  []float64
	failures []string
}

func (r *fakeRecorder) RecordSample(z float64)      { r.samples = append(r.samples, z) }
func (r *fakeRecorder) RecordResult(z float64)      { r.results = append(r.results, z) }
func (r *fakeRecorder) RecordFailure(reason string) { r.failures = append(r.failures, reason) }

var (
	_ HardwareAdapter = (*fakeHW)(nil)
	_ MotionAdapter   = (*fakeMotion)(nil)
	_ PlannerAdapter  = (*fakePlanner)(nil)
	_ EndstopsAdapter = (*fakeEndstops)(nil)
	_ ThermalAdapter  = (*fakeThermal)(nil)
	_ DriverAdapter   = (*fakeDriver)(nil)
	_ UIAdapter       = (*fakeUI)(nil)
	_ StopAdapter     = (*fakeStop)(nil)
	_ StepperAdapter  = (*fakeSteppers)(nil)
	_ Recorder        = (*fakeRecorder)(nil)
)
