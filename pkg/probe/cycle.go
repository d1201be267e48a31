package probe

import (
	"math"
	"sort"

	"klipper-go-migration/pkg/errors"
)

// ZProbeLowPoint is the conservative approach-floor offset added to
// -offset.z when Z is trusted. When Z is untrusted the descent floor
// is instead a flat -10mm.
const ZProbeLowPoint = 5.0

// PROBE_TARE_TIME / PROBE_TARE_DELAY, in ms, from the tare pulse
// sequence: drive active, then idle, then settle.
const (
	ProbeTareTimeMs  = 200
	ProbeTareDelayMs = 200
)

// BigRaiseDistance is the fixed ascend used by RaiseAfter == BigRaise.
const BigRaiseDistance = 25.0

// CompensationAdapter applies mesh-adjacent corrections that are out of
// this core's scope (temperature-compensation and X-axis-twist
// compensation curves live in the leveling-math component).
type CompensationAdapter interface {
	ApplyTemperatureCompensation(z, x, y float64) float64
	ApplyXTwistCompensation(z, x, y float64) float64
}

// BDSensorAdapter reads a BD-sensor's own Z estimate directly, letting
// ProbeCycle short-circuit the whole deploy/descend/sample pipeline.
type BDSensorAdapter interface {
	Read() float64
}

// Recorder receives per-cycle diagnostics; MetricsRecorder in
// metricsrecorder.go backs it with pkg/metrics gauges/histograms.
type Recorder interface {
	RecordSample(z float64)
	RecordResult(z float64)
	RecordFailure(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordSample(float64)   {}
func (nopRecorder) RecordResult(float64)   {}
func (nopRecorder) RecordFailure(string)   {}

// Controller is the single owner of the probe subsystem's mutable
// state and the entry point for probe_at_point. It composes Driver,
// EnvironmentGuard and Trigger, keeping deployed state, sensorless
// adjustments, and test-sensitivity flags in one owner passed by
// reference; the probe API is method-style on that owner rather than
// free functions.
type Controller struct {
	Config   *Config
	Settings *Settings
	State    *State

	Motion   MotionAdapter
	Planner  PlannerAdapter
	Endstops EndstopsAdapter
	Thermal  ThermalAdapter
	Driver   DriverAdapter
	UI       UIAdapter
	Stop     StopAdapter
	Comp     CompensationAdapter
	BD       BDSensorAdapter
	Rec      Recorder

	probeDriver *Driver
	guard       *EnvironmentGuard
	trigger     *Trigger
}

// New wires a Controller from its configuration and adapters. hw and
// steppers may be nil for variants/features that don't need them.
func New(cfg *Config, settings *Settings, state *State, mv MotionAdapter, pl PlannerAdapter, es EndstopsAdapter, th ThermalAdapter, dr DriverAdapter, ui UIAdapter, stop StopAdapter, hw HardwareAdapter, steppers StepperAdapter) *Controller {
	pd := NewDriver(cfg, state, hw, mv, es, ui, stop)
	c := &Controller{
		Config: cfg, Settings: settings, State: state,
		Motion: mv, Planner: pl, Endstops: es, Thermal: th, Driver: dr, UI: ui, Stop: stop,
		Rec:         nopRecorder{},
		probeDriver: pd,
		guard:       NewEnvironmentGuard(cfg, th, es, dr, mv, hw, steppers),
		trigger:     NewTrigger(cfg, state, mv, es, th, pd),
	}
	return c
}

// ProbeAtPoint runs a full probe at one XY point. It returns the
// measured Z, or NaN on any failure (unreachable point, deploy
// failure, no-trigger, sanity failure, or a failed stow after
// LastStow/Stow).
func (c *Controller) ProbeAtPoint(rx, ry float64, raiseAfter RaiseAfter, probeRelative, sanityCheck bool) float64 {
	off := c.Config.Offset

	// 1. Reachability, clipped to delta-clip height on delta.
	cur := c.Motion.CurrentPosition()
	targetZ := cur[2]
	if clip, isDelta := c.Motion.DeltaClipHeight(); isDelta && targetZ > clip {
		targetZ = clip
	}
	if !c.Motion.CanReach([2]float64{rx, ry}, probeRelative) {
		c.Rec.RecordFailure("unreachable")
		if c.UI != nil {
			c.UI.StatusMessage(errors.ProbeUnreachableError(rx, ry).Error())
		}
		return NaN
	}

	// 2. Probe-relative: subtract XY offset so the probe tip lands at (rx, ry).
	x, y := rx, ry
	if probeRelative {
		x -= off.X
		y -= off.Y
	}

	// 3. Planar move at the configured XY-probe feedrate.
	if err := c.Motion.DoBlockingMoveTo([3]float64{x, y, targetZ}, c.Config.XYProbeFeedrate); err != nil {
		return NaN
	}

	// 4. BD-sensor short circuit.
	if c.Config.Variant == BDSensor && c.BD != nil {
		return c.Motion.CurrentPosition()[2] - c.BD.Read()
	}

	// 5. Preheat (when configured and not yet deployed), then deploy.
	if c.Config.PreheatBeforeProbing && !c.State.Deployed && c.Settings != nil {
		if err := c.PreheatForProbing(c.Settings.PreheatHotendTemp, c.Settings.PreheatBedTemp, false); err != nil {
			return NaN
		}
	}
	if err := c.probeDriver.Deploy(); err != nil {
		return NaN
	}

	// 6. Sample, offset, compensate.
	measuredZ := c.runZProbe(sanityCheck)
	if !isNaN(measuredZ) {
		measuredZ += off.Z
		if c.Config.TemperatureCompensation && c.Comp != nil {
			pos := c.Motion.CurrentPosition()
			measuredZ = c.Comp.ApplyTemperatureCompensation(measuredZ, pos[0], pos[1])
		}
		if c.Config.XTwistCompensation && c.Comp != nil {
			pos := c.Motion.CurrentPosition()
			measuredZ = c.Comp.ApplyXTwistCompensation(measuredZ, pos[0], pos[1])
		}
	}

	// 7. Post-move.
	switch raiseAfter {
	case Raise:
		pos := c.Motion.CurrentPosition()
		_ = c.Motion.DoZClearance(pos[2] + c.Config.Clearances.BetweenProbes)
	case BigRaise:
		pos := c.Motion.CurrentPosition()
		_ = c.Motion.DoZClearance(pos[2] + BigRaiseDistance)
	case Stow, LastStow:
		if err := c.probeDriver.Stow(); err != nil {
			measuredZ = NaN
		}
	}

	// 8. Failure surfacing.
	if isNaN(measuredZ) {
		_ = c.probeDriver.Stow()
		c.Rec.RecordFailure("probing failed")
		if c.UI != nil {
			c.UI.Alert("probing failed")
		}
		return NaN
	}

	c.Rec.RecordResult(measuredZ)
	return measuredZ
}

// runZProbe is the statistical core of a probe cycle: it descends,
// samples, and aggregates to a single Z height.
func (c *Controller) runZProbe(sanityCheck bool) float64 {
	cfg := c.Config
	off := cfg.Offset

	zProbeLowPoint := -10.0
	if c.Motion.AxisIsTrusted(AxisZ) {
		zProbeLowPoint = -off.Z + ZProbeLowPoint
	}

	deltaSensorless := cfg.Variant == Sensorless && cfg.IsDelta

	sampleZ := func() float64 {
		z := c.Motion.CurrentPosition()[2]
		if deltaSensorless {
			z -= c.State.LargestSensorlessAdj
		}
		return z
	}

	tryToProbe := func(floor, feedrate, clearance float64) (bool, error) {
		if failed, err := c.tare(); err != nil {
			return true, err
		} else if failed {
			return true, nil
		}
		triggered, err := c.trigger.ProbeDownToZ(floor, feedrate)
		if err != nil {
			return true, err
		}
		if !triggered {
			return true, nil
		}
		if sanityCheck {
			z := c.Motion.CurrentPosition()[2]
			threshold := -off.Z + clearance
			if z > threshold {
				return true, nil
			}
		}
		return false, nil
	}

	total := cfg.TotalSamples

	if total == 2 {
		if failed, err := c.tare(); err != nil || failed {
			return NaN
		}
		if failed, err := tryToProbe(zProbeLowPoint, cfg.FastFeedrate, cfg.Clearances.BetweenProbes); err != nil || failed {
			return NaN
		}
		firstZ := sampleZ()
		c.Rec.RecordSample(firstZ)
		pos := c.Motion.CurrentPosition()
		_ = c.Motion.DoZClearance(pos[2] + cfg.Clearances.MultiProbe)

		// Tare a second time before the slow sample: the probe can
		// become active between the fast and slow descents.
		if failed, err := c.tare(); err != nil || failed {
			return NaN
		}
		if failed, err := tryToProbe(zProbeLowPoint, cfg.SlowFeedrate, cfg.Clearances.MultiProbe); err != nil || failed {
			return NaN
		}
		if cfg.MeasureBacklash {
			c.measureBacklash()
		}
		slowZ := sampleZ()
		c.Rec.RecordSample(slowZ)
		return (slowZ*3.0 + firstZ*2.0) * 0.2
	}

	if total != 2 && cfg.FastFeedrate != cfg.SlowFeedrate {
		preZ := cfg.Clearances.Deploy + 5.0
		if off.Z < 0 {
			preZ -= off.Z
		}
		if c.Motion.CurrentPosition()[2] > preZ {
			triggered, err := c.trigger.ProbeDownToZ(preZ, cfg.FastFeedrate)
			if err != nil {
				return NaN
			}
			if !triggered {
				pos := c.Motion.CurrentPosition()
				_ = c.Motion.DoZClearance(pos[2] + cfg.Clearances.BetweenProbes)
			}
		}
	}

	loops := total
	if loops < 1 {
		loops = 1
	}

	var probes []float64
	sum := 0.0

	for p := 0; p < loops; p++ {
		if failed, err := c.tare(); err != nil || failed {
			return NaN
		}
		if failed, err := tryToProbe(zProbeLowPoint, cfg.SlowFeedrate, cfg.Clearances.MultiProbe); err != nil || failed {
			return NaN
		}
		if cfg.MeasureBacklash {
			c.measureBacklash()
		}
		z := sampleZ()
		c.Rec.RecordSample(z)

		if cfg.ExtraSamples > 0 {
			probes = insertSorted(probes, z)
		} else {
			sum += z
		}

		if total > 2 && p < loops-1 {
			pos := c.Motion.CurrentPosition()
			_ = c.Motion.DoZClearance(pos[2] + cfg.Clearances.MultiProbe)
		}
	}

	switch {
	case total == 1:
		return c.Motion.CurrentPosition()[2]
	case total > 2 && cfg.ExtraSamples == 0:
		return sum / float64(total)
	case total > 2 && cfg.ExtraSamples > 0:
		return medianTrim(probes, cfg.ExtraSamples)
	default:
		return c.Motion.CurrentPosition()[2]
	}
}

// insertSorted inserts z into a slice kept sorted ascending.
func insertSorted(probes []float64, z float64) []float64 {
	i := sort.SearchFloat64s(probes, z)
	probes = append(probes, 0)
	copy(probes[i+1:], probes[i:])
	probes[i] = z
	return probes
}

// medianTrim drops exactly extraSamples outliers, each maximizing
// distance from the median of the *original* sorted set, ties broken
// by preferring the higher index.
func medianTrim(sorted []float64, extraSamples int) float64 {
	n := len(sorted)
	mid := (n - 1) / 2
	var median float64
	if n%2 == 1 {
		median = sorted[mid]
	} else {
		median = (sorted[mid] + sorted[mid+1]) / 2
	}

	lo, hi := 0, n-1
	for i := 0; i < extraSamples; i++ {
		distLo := math.Abs(sorted[lo] - median)
		distHi := math.Abs(sorted[hi] - median)
		if distHi >= distLo {
			hi--
		} else {
			lo++
		}
	}

	sum := 0.0
	for i := lo; i <= hi; i++ {
		sum += sorted[i]
	}
	return sum / float64(hi-lo+1)
}

// tare drives the strain-gauge tare pulse if configured. Returns
// (refused, error); refused==true with err==nil means the sample phase
// should return NaN because the probe was active during a
// tare-only-when-inactive request.
func (c *Controller) tare() (bool, error) {
	if !c.Config.ProbeTare {
		return false, nil
	}
	if c.Config.TareOnlyWhenInactive && c.Endstops != nil && c.Endstops.ProbeSwitchActivated() {
		if c.UI != nil {
			c.UI.Alert(errors.ProbeTareActiveError().Message)
		}
		return true, nil
	}
	c.probeDriver.Tare()
	return false, nil
}

// measureBacklash records a diagnostic-only backlash measurement; it
// does not affect the returned sample. Full backlash compensation
// mathematics belongs to the (out of scope) leveling component.
func (c *Controller) measureBacklash() {
	c.Rec.RecordSample(c.Motion.CurrentPosition()[2])
}

// PreheatForProbing implements preheat_for_probing:
// raise targets that are below the requested temperature, and, unless
// early, block until both axes stabilize within their configured
// windows.
func (c *Controller) PreheatForProbing(hotendTemp, bedTemp float64, early bool) error {
	if c.Thermal == nil {
		return nil
	}
	if hotendTemp > c.Thermal.DegTargetHotend(0) {
		c.Thermal.SetTargetHotend(hotendTemp, 0)
	}
	if bedTemp > c.Thermal.DegTargetBed() {
		c.Thermal.SetTargetBed(bedTemp)
	}
	if early {
		return nil
	}
	if err := c.Thermal.WaitForHotend(0); err != nil {
		return err
	}
	return c.Thermal.WaitForBedHeating()
}
