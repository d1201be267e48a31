package probe

import (
	"math"
	"testing"
)

func TestMedianTrimOddDropsHighOnTie(t *testing.T) {
	// sorted: 1 2 3 4 5, median 3; lo dist and hi dist are both 2 -> tie
	// prefers dropping the high end.
	got := medianTrim([]float64{1, 2, 3, 4, 5}, 1)
	want := (1.0 + 2.0 + 3.0 + 4.0) / 4.0
	if got != want {
		t.Fatalf("medianTrim() = %v, want %v", got, want)
	}
}

func TestMedianTrimDropsFarthestFromMedian(t *testing.T) {
	// sorted: 0 1 2 3 100, median 2. lo dist=2, hi dist=98 -> drop 100.
	got := medianTrim([]float64{0, 1, 2, 3, 100}, 1)
	want := (0.0 + 1.0 + 2.0 + 3.0) / 4.0
	if got != want {
		t.Fatalf("medianTrim() = %v, want %v", got, want)
	}
}

func TestMedianTrimDropsTwo(t *testing.T) {
	// sorted: 1..6, median 3.5. First pass: 1 and 6 tie at 2.5 -> drop 6.
	// Second pass: 1 is 2.5 away, 5 is 1.5 away -> drop 1.
	got := medianTrim([]float64{1, 2, 3, 4, 5, 6}, 2)
	want := (2.0 + 3.0 + 4.0 + 5.0) / 4.0
	if got != want {
		t.Fatalf("medianTrim() = %v, want %v", got, want)
	}
}

func newTestController(cfg *Config) (*Controller, *fakeMotion, *fakeEndstops, *fakeUI, *fakeStop, *fakeHW, *fakeRecorder) {
	mv := newFakeMotion()
	es := &fakeEndstops{}
	mv.es = es
	th := &fakeThermal{}
	dr := newFakeDriver()
	ui := &fakeUI{}
	stop := &fakeStop{}
	hw := newFakeHW()
	steppers := newFakeSteppers()
	state := &State{}
	settings := &Settings{}
	c := New(cfg, settings, state, mv, &fakePlanner{}, es, th, dr, ui, stop, hw, steppers)
	rec := &fakeRecorder{}
	c.Rec = rec
	return c, mv, es, ui, stop, hw, rec
}

func baseConfig() *Config {
	return &Config{
		Variant:         FixedMount,
		FastFeedrate:    5,
		SlowFeedrate:    5,
		XYProbeFeedrate: 50,
		TotalSamples:    1,
		Clearances: Clearances{
			Deploy:        5,
			BetweenProbes: 5,
			MultiProbe:    5,
			BigRaise:      BigRaiseDistance,
		},
	}
}

func TestProbeAtPointUnreachable(t *testing.T) {
	cfg := baseConfig()
	c, mv, _, ui, _, _, rec := newTestController(cfg)
	mv.canReach = false

	z := c.ProbeAtPoint(10, 10, RaiseNone, false, false)
	if !isNaN(z) {
		t.Fatalf("ProbeAtPoint() = %v, want NaN", z)
	}
	if len(rec.failures) != 1 || rec.failures[0] != "unreachable" {
		t.Fatalf("failures = %v, want [unreachable]", rec.failures)
	}
	if len(ui.messages) != 1 {
		t.Fatalf("expected one status message, got %v", ui.messages)
	}
}

func TestProbeAtPointSingleSample(t *testing.T) {
	cfg := baseConfig()
	c, mv, _, _, _, _, rec := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	mv.triggerHeights = []float64{0.2}

	z := c.ProbeAtPoint(0, 0, RaiseNone, false, false)
	if isNaN(z) {
		t.Fatalf("ProbeAtPoint() = NaN, want a measurement")
	}
	if z != 0.2 {
		t.Fatalf("ProbeAtPoint() = %v, want 0.2", z)
	}
	if len(rec.samples) != 1 {
		t.Fatalf("expected one recorded sample, got %v", rec.samples)
	}
}

func TestProbeAtPointNoTriggerAlertsAndStows(t *testing.T) {
	cfg := baseConfig()
	c, mv, _, ui, _, _, rec := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	// no scripted trigger heights: the descent runs clean through to
	// the floor without ever latching the endstop.

	z := c.ProbeAtPoint(0, 0, RaiseNone, false, false)
	if !isNaN(z) {
		t.Fatalf("ProbeAtPoint() = %v, want NaN", z)
	}
	if len(ui.alerts) != 1 || ui.alerts[0] != "probing failed" {
		t.Fatalf("alerts = %v, want [probing failed]", ui.alerts)
	}
	if len(rec.failures) != 1 {
		t.Fatalf("failures = %v, want one entry", rec.failures)
	}
}

type bdSensorStub struct{ value float64 }

func (b bdSensorStub) Read() float64 { return b.value }

func TestProbeAtPointBDSensorShortCircuit(t *testing.T) {
	cfg := baseConfig()
	cfg.Variant = BDSensor
	c, mv, _, _, _, _, _ := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	c.BD = bdSensorStub{value: 3.5}

	z := c.ProbeAtPoint(0, 0, RaiseNone, false, false)
	want := mv.pos[2] - 3.5
	if z != want {
		t.Fatalf("ProbeAtPoint() = %v, want %v", z, want)
	}
}

func TestProbeAtPointRaiseAfterStow(t *testing.T) {
	cfg := baseConfig()
	c, mv, _, _, _, _, _ := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	mv.triggerHeights = []float64{0.2}

	z := c.ProbeAtPoint(0, 0, Stow, false, false)
	if isNaN(z) {
		t.Fatalf("ProbeAtPoint() = NaN, want a measurement")
	}
	if z != 0.2 {
		t.Fatalf("ProbeAtPoint() = %v, want 0.2", z)
	}
}

func TestRunZProbeDoubleSampleWeightedAverage(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalSamples = 2
	cfg.FastFeedrate = 5
	cfg.SlowFeedrate = 2

	c, mv, _, _, _, _, rec := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	mv.triggerHeights = []float64{0.3, 0.1}

	z := c.runZProbe(false)
	want := (0.1*3.0 + 0.3*2.0) * 0.2
	if math.Abs(z-want) > 1e-9 {
		t.Fatalf("runZProbe() = %v, want %v", z, want)
	}
	if len(rec.samples) != 2 {
		t.Fatalf("expected two recorded samples, got %v", rec.samples)
	}
}

func TestRunZProbeMeanOfThreeSamples(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalSamples = 3
	cfg.ExtraSamples = 0

	c, mv, _, _, _, _, _ := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	mv.triggerHeights = []float64{0.1, 0.2, 0.3}

	z := c.runZProbe(false)
	want := (0.1 + 0.2 + 0.3) / 3.0
	if math.Abs(z-want) > 1e-9 {
		t.Fatalf("runZProbe() = %v, want %v", z, want)
	}
}

func TestRunZProbeMedianTrimOfFiveSamples(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalSamples = 5
	cfg.ExtraSamples = 1

	c, mv, _, _, _, _, _ := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	mv.triggerHeights = []float64{0.1, 0.2, 0.3, 0.4, 0.5}

	z := c.runZProbe(false)
	want := medianTrim([]float64{0.1, 0.2, 0.3, 0.4, 0.5}, 1)
	if math.Abs(z-want) > 1e-9 {
		t.Fatalf("runZProbe() = %v, want %v", z, want)
	}
}

func TestRunZProbeSingleSamplePassthrough(t *testing.T) {
	cfg := baseConfig()
	cfg.TotalSamples = 1

	c, mv, _, _, _, _, _ := newTestController(cfg)
	mv.pos = [3]float64{0, 0, 10}
	mv.triggerHeights = []float64{0.25}

	z := c.runZProbe(false)
	if z != 0.25 {
		t.Fatalf("runZProbe() = %v, want 0.25", z)
	}
}

func TestTareRefusedWhenActiveAndOnlyWhenInactive(t *testing.T) {
	cfg := baseConfig()
	cfg.ProbeTare = true
	cfg.TareOnlyWhenInactive = true

	c, _, es, ui, _, _, _ := newTestController(cfg)
	es.switchActivated = true

	refused, err := c.tare()
	if err != nil {
		t.Fatalf("tare() error = %v", err)
	}
	if !refused {
		t.Fatalf("tare() refused = false, want true")
	}
	if len(ui.alerts) != 1 {
		t.Fatalf("expected one alert, got %v", ui.alerts)
	}
}

func TestTareProceedsWhenInactive(t *testing.T) {
	cfg := baseConfig()
	cfg.ProbeTare = true
	cfg.TareOnlyWhenInactive = true

	c, _, es, _, _, _, _ := newTestController(cfg)
	es.switchActivated = false

	refused, err := c.tare()
	if err != nil || refused {
		t.Fatalf("tare() = (%v, %v), want (false, nil)", refused, err)
	}
}

func TestPreheatForProbingRaisesTargetsAndBlocks(t *testing.T) {
	cfg := baseConfig()
	c, _, _, _, _, _, _ := newTestController(cfg)
	th := c.Thermal.(*fakeThermal)

	if err := c.PreheatForProbing(200, 60, false); err != nil {
		t.Fatalf("PreheatForProbing() error = %v", err)
	}
	if th.targetHotend != 200 || th.targetBed != 60 {
		t.Fatalf("targets = (%v, %v), want (200, 60)", th.targetHotend, th.targetBed)
	}
}

func TestPreheatForProbingEarlyDoesNotBlock(t *testing.T) {
	cfg := baseConfig()
	c, _, _, _, _, _, _ := newTestController(cfg)

	if err := c.PreheatForProbing(200, 60, true); err != nil {
		t.Fatalf("PreheatForProbing() error = %v", err)
	}
}

func TestPreheatForProbingDoesNotLowerExistingTargets(t *testing.T) {
	cfg := baseConfig()
	c, _, _, _, _, _, _ := newTestController(cfg)
	th := c.Thermal.(*fakeThermal)
	th.targetHotend = 210
	th.targetBed = 65

	if err := c.PreheatForProbing(200, 60, true); err != nil {
		t.Fatalf("PreheatForProbing() error = %v", err)
	}
	if th.targetHotend != 210 || th.targetBed != 65 {
		t.Fatalf("targets changed to (%v, %v), want unchanged", th.targetHotend, th.targetBed)
	}
}
