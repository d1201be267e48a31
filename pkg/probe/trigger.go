package probe

// Trigger issues a single downward motion toward a Z floor, reads the
// trigger state, and reconciles planner position with physical step
// counts on detection.
type Trigger struct {
	cfg    *Config
	state  *State
	mv     MotionAdapter
	es     EndstopsAdapter
	th     ThermalAdapter
	driver *Driver
}

// NewTrigger builds a Trigger over the given adapters and driver
// (needed only for the BLTouch low-speed re-deploy/stow path).
func NewTrigger(cfg *Config, state *State, mv MotionAdapter, es EndstopsAdapter, th ThermalAdapter, driver *Driver) *Trigger {
	return &Trigger{cfg: cfg, state: state, mv: mv, es: es, th: th, driver: driver}
}

// ProbeDownToZ executes probe_down_to_z: wait for the bed to reach
// temperature (only when TemperatureCompensation is set; the hotend is
// not waited for), issue a blocking Z move to targetZ, read the
// endstop snapshot, and on a sensorless delta trigger update
// LargestSensorlessAdj. Returns whether the move triggered.
func (t *Trigger) ProbeDownToZ(targetZ, feedrate float64) (bool, error) {
	lowSpeedBLTouch := t.cfg.Variant == BLTouch && !t.cfg.HighSpeedBLTouch

	// 1. BLTouch low-speed re-deploy.
	if lowSpeedBLTouch && t.driver != nil {
		if err := t.driver.redeployStylus(); err != nil {
			return false, err
		}
	}

	// 2. With temperature compensation on, block until the bed is at
	// temperature. The hotend is not waited for here.
	if t.cfg.TemperatureCompensation && t.th != nil {
		if err := t.th.WaitForBedHeating(); err != nil {
			return false, err
		}
	}

	// 3. Blocking Z move; aborts on trigger.
	pos := t.mv.CurrentPosition()
	if err := t.mv.DoBlockingMoveTo([3]float64{pos[0], pos[1], targetZ}, feedrate); err != nil {
		return false, err
	}

	// 4. Read endstop snapshot.
	bits := t.es.TriggerState()
	deltaSensorless := t.cfg.Variant == Sensorless && t.cfg.IsDelta
	triggered := bits.Triggered(deltaSensorless)

	// 5. Sensorless delta: update LargestSensorlessAdj.
	if triggered && deltaSensorless {
		t.state.LargestSensorlessAdj = -3
		towers := [3]bool{bits.XMax, bits.YMax, bits.ZMax}
		for i, hit := range towers {
			if hit && t.state.SensorlessPerAxisAdj[i] > t.state.LargestSensorlessAdj {
				t.state.LargestSensorlessAdj = t.state.SensorlessPerAxisAdj[i]
			}
		}
	}

	// 6. BLTouch low-speed stow after trigger.
	if triggered && lowSpeedBLTouch && t.driver != nil {
		if err := t.driver.stowStylus(); err != nil {
			return triggered, err
		}
	}

	// 7. Clear latch, reconcile planner Z with stepper-counted Z.
	t.es.ClearLatch()
	t.mv.SyncPlanPosition()
	t.mv.SetCurrentFromSteppersForAxis(AxisZ)

	return triggered, nil
}
