// Package probe implements the bed-probe subsystem: deploy/stow of a
// physical Z sensor, a blocking descent toward the bed, multi-sample
// height acquisition with statistical filtering, and the surrounding
// thermal/driver/endstop bookkeeping needed to keep a probe cycle safe.
//
// Copyright (C) 2017-2024  Kevin O'Connor <kevin@koconnor.net>
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package probe

import "math"

// Axis identifies one of the three Cartesian axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "?"
	}
}

// Variant names a supported probe sensor kind.
type Variant int

const (
	FixedMount Variant = iota
	NozzleAsProbe
	BLTouch
	ZServo
	Solenoid
	MagLev
	Sled
	TouchMI
	AllenKey
	MagMounted
	RackAndPinion
	Sensorless
	BDSensor
)

func (v Variant) String() string {
	switch v {
	case FixedMount:
		return "fixed_mount"
	case NozzleAsProbe:
		return "nozzle_as_probe"
	case BLTouch:
		return "bltouch"
	case ZServo:
		return "servo"
	case Solenoid:
		return "solenoid"
	case MagLev:
		return "maglev"
	case Sled:
		return "sled"
	case TouchMI:
		return "touch_mi"
	case AllenKey:
		return "allen_key"
	case MagMounted:
		return "mag_mounted"
	case RackAndPinion:
		return "rack_and_pinion"
	case Sensorless:
		return "sensorless"
	case BDSensor:
		return "bd_sensor"
	default:
		return "unknown"
	}
}

// RequiresHomedXY reports whether this variant's deploy/stow sequence
// needs X (and for Sled, the dock) homed before it can run.
func (v Variant) RequiresHomedXY() bool {
	return v == Sled || v == AllenKey
}

// Offset is the fixed mechanical displacement between the probe tip and
// the toolhead's reference point. Z is typically negative (the probe
// extends below the nozzle).
type Offset struct {
	X, Y, Z float64
}

// Clearances holds the non-negative Z rises used at various points in a
// probe cycle.
type Clearances struct {
	Deploy       float64
	BetweenProbes float64
	MultiProbe   float64
	BigRaise     float64
}

// WaypointKind distinguishes AllenKey (plain XYZ+feedrate) from
// MagMounted (typed) waypoint tables.
type WaypointKind int

const (
	WaypointMove WaypointKind = iota
	WaypointDeploy
	WaypointStow
)

// Waypoint is one entry of an AllenKey/MagMounted deploy or stow
// replay sequence. Up to 5 are kept per direction.
type Waypoint struct {
	X, Y, Z  float64
	Feedrate float64
	Kind     WaypointKind
}

// Config is the immutable, per-cycle probe configuration.
type Config struct {
	Offset                  Offset
	FastFeedrate            float64
	SlowFeedrate            float64
	XYProbeFeedrate         float64
	TotalSamples            int
	ExtraSamples            int
	ZFloor                  float64
	Clearances              Clearances
	Variant                 Variant
	IsDelta                 bool

	PauseBeforeDeployStow    bool
	PreheatBeforeProbing     bool
	HeatersOffDuringProbe    bool
	FansOffDuringProbe       bool
	EStepperOff              bool
	XYSteppersOff            bool
	ProbeTare                bool
	TareOnlyWhenInactive     bool
	MeasureBacklash          bool
	XTwistCompensation       bool
	TemperatureCompensation  bool
	TriggeredWhenStowedTest  bool
	HighSpeedBLTouch         bool

	DeployWaypoints []Waypoint
	StowWaypoints   []Waypoint

	SolenoidPin     string
	TarePin         string
	TarePinInverted bool
	ServoID         string
	DeployAngle float64
	StowAngle   float64

	SledDockX     float64
	SledOffsetX   float64
	TouchMIRetractZ float64
	RackPinionDeployX  float64
	RackPinionRetractX float64

	// StallguardThreshold is the TMC2209 SGTHRS sensitivity (Marlin's
	// Z_STALL_SENSITIVITY) DriverHost switches the Z driver to while a
	// Sensorless probe is armed. Zero leaves the driver's own setting alone.
	StallguardThreshold int
}

// KeptSamples is the number of samples retained after outlier trimming:
// TotalSamples - ExtraSamples when TotalSamples > 2, otherwise
// TotalSamples itself (trimming only applies to the N-sample median path).
func (c *Config) KeptSamples() int {
	if c.TotalSamples > 2 {
		return c.TotalSamples - c.ExtraSamples
	}
	return c.TotalSamples
}

// Settings are the mutable, user-configurable probe settings.
type Settings struct {
	PreheatHotendTemp                    float64
	PreheatBedTemp                       float64
	TurnHeatersOff                       bool
	StabilizeTemperaturesAfterProbing    bool
}

// StallguardState is the per-axis driver state EnvironmentGuard must
// restore after a sensorless probing cycle.
type StallguardState struct {
	StealthChopWasEnabled bool
	PriorCurrent          float64
}

// EndstopBits is a snapshot of which endstop inputs are currently
// latched, as read by TriggerMove after a probing move.
type EndstopBits struct {
	XMax, YMax, ZMax bool
	ZMinProbe        bool
}

// Triggered reports whether this snapshot counts as a probe trigger for
// the given kinematics: on delta-sensorless machines any tower max
// endstop counts; otherwise only the dedicated Z-min-probe input does.
func (b EndstopBits) Triggered(deltaSensorless bool) bool {
	if deltaSensorless {
		return b.XMax || b.YMax || b.ZMax
	}
	return b.ZMinProbe
}

// BeepKind selects the audible feedback pattern for deploy/stow.
type BeepKind int

const (
	BeepDeploy BeepKind = iota
	BeepStow
)

// State is the mutable, process-wide state owned by the probe
// subsystem. No other component may write these fields; the zero
// value is the correct starting state.
type State struct {
	Deployed              bool
	SensorlessPerAxisAdj  [3]float64 // towers A, B, C
	LargestSensorlessAdj  float64
	TestSensitivity       [3]bool // X, Y, Z participate in sensorless detection
}

// RaiseAfter selects the post-sample Z behavior of ProbeCycle.
type RaiseAfter int

const (
	RaiseNone RaiseAfter = iota
	Raise
	BigRaise
	Stow
	LastStow
)

// NaN is the sentinel ProbeCycle and run_z_probe return on failure.
var NaN = math.NaN()

func isNaN(v float64) bool { return math.IsNaN(v) }
