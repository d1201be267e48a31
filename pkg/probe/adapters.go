package probe

// MotionAdapter is the narrow surface the probe core consumes from the
// motion/toolhead component. Blocking moves return once the planner has
// drained the move (or, for the probing move, once the trigger aborted
// it); the probe core never reaches into planner internals directly.
type MotionAdapter interface {
	DoBlockingMoveTo(pos [3]float64, feedrate float64) error
	DoBlockingMoveToAxis(axis Axis, coord, feedrate float64) error
	DoZClearance(zDest float64) error
	SyncPlanPosition()
	SetCurrentFromSteppersForAxis(axis Axis)
	CurrentPosition() [3]float64
	SetCurrentPosition(pos [3]float64)
	AxisIsTrusted(axis Axis) bool
	CanReach(xy [2]float64, probeRelative bool) bool
	// DeltaClipHeight returns the delta-kinematics clip height and
	// whether the machine is delta-kinematic at all.
	DeltaClipHeight() (float64, bool)
}

// PlannerAdapter is queried only; the probe core never enqueues moves
// directly through it.
type PlannerAdapter interface {
	HasBlocksQueued() bool
}

// EndstopsAdapter is the probe core's view of the endstop module.
type EndstopsAdapter interface {
	Enable(enable bool)
	NotHoming() bool
	HitOnPurpose()
	EnableZProbe(enable bool)
	TriggerState() EndstopBits
	ClearLatch()
	SetHomingCurrent(enable bool)
	ProbeSwitchActivated() bool
}

// ThermalAdapter is the probe core's view of the heater/fan module.
type ThermalAdapter interface {
	PauseHeaters(pause bool)
	SetFansPaused(pause bool)
	WaitForHotend(idx int) error
	WaitForBedHeating() error
	DegTargetHotend(idx int) float64
	DegTargetBed() float64
	SetTargetHotend(t float64, idx int)
	SetTargetBed(t float64)
	WholeDegHotend(idx int) float64
	WholeDegBed() float64
}

// DriverAdapter is the probe core's view of the stepper driver module,
// used only for sensorless (stallGuard) probing.
type DriverAdapter interface {
	EnableStallguard(axis Axis) StallguardState
	DisableStallguard(axis Axis, prior StallguardState)
}

// UIAdapter is the probe core's view of the LCD/host messaging layer.
type UIAdapter interface {
	StatusMessage(msg string)
	Alert(msg string)
	// Confirm prompts the operator and returns a channel that receives
	// exactly one bool when they respond.
	Confirm(prompt string) <-chan bool
	Beep(kind BeepKind)
}

// SettingsAdapter provides the persisted offset/settings fields; the
// probe core treats them as read-only inputs.
type SettingsAdapter interface {
	Offset() Offset
	ProbeSettings() Settings
}

// StopAdapter escalates a deploy/stow verification failure or a
// not-homed precondition to a fatal, one-way stop.
type StopAdapter interface {
	Fault(msg string) error
}

// StepperAdapter enables/disables individual stepper motors, used by
// EnvironmentGuard's e_steppers_off/xy_steppers_off features.
type StepperAdapter interface {
	SetEnabled(axis Axis, enabled bool)
	SetExtruderEnabled(enabled bool)
}
