package probe

import (
	"strconv"
	"strings"

	"klipper-go-migration/pkg/config"
)

// LoadConfig parses a [probe] (or a variant-specific section such as
// [bltouch]/[smart_effector]) config.Section into a Config, the way
// the rest of the host's modules turn a config.Section into their
// typed settings struct via Section.Get*.
func LoadConfig(sec *config.Section, variant Variant, isDelta bool) (*Config, error) {
	cfg := &Config{Variant: variant, IsDelta: isDelta}

	var err error
	if cfg.Offset.X, err = sec.GetFloat("x_offset", 0); err != nil {
		return nil, err
	}
	if cfg.Offset.Y, err = sec.GetFloat("y_offset", 0); err != nil {
		return nil, err
	}
	if cfg.Offset.Z, err = sec.GetFloat("z_offset"); err != nil {
		return nil, err
	}

	above0 := 0.0
	if cfg.FastFeedrate, err = sec.GetFloatWithBounds("speed", config.FloatBounds{Above: &above0}, 5.0); err != nil {
		return nil, err
	}
	if cfg.SlowFeedrate, err = sec.GetFloatWithBounds("lift_speed", config.FloatBounds{Above: &above0}, cfg.FastFeedrate); err != nil {
		return nil, err
	}
	if cfg.XYProbeFeedrate, err = sec.GetFloatWithBounds("probe_speed", config.FloatBounds{Above: &above0}, cfg.SlowFeedrate); err != nil {
		return nil, err
	}

	one := 1
	if cfg.TotalSamples, err = sec.GetIntWithBounds("samples", &one, nil, 1); err != nil {
		return nil, err
	}
	zero := 0
	if cfg.ExtraSamples, err = sec.GetIntWithBounds("samples_result", &zero, nil, 0); err != nil {
		return nil, err
	}

	if cfg.ZFloor, err = sec.GetFloat("z_min_probe_result", -1.0); err != nil {
		return nil, err
	}
	if cfg.Clearances.Deploy, err = sec.GetFloat("z_clearance_deploy_probe", 10.0); err != nil {
		return nil, err
	}
	if cfg.Clearances.BetweenProbes, err = sec.GetFloat("z_clearance_between_probes", 5.0); err != nil {
		return nil, err
	}
	if cfg.Clearances.MultiProbe, err = sec.GetFloat("z_clearance_multi_probe", cfg.Clearances.BetweenProbes); err != nil {
		return nil, err
	}
	if cfg.Clearances.BigRaise, err = sec.GetFloat("z_clearance_big_raise", BigRaiseDistance); err != nil {
		return nil, err
	}

	if cfg.PauseBeforeDeployStow, err = sec.GetBool("pause_before_deploy_stow", false); err != nil {
		return nil, err
	}
	if cfg.PreheatBeforeProbing, err = sec.GetBool("preheat_before_probing", false); err != nil {
		return nil, err
	}
	if cfg.HeatersOffDuringProbe, err = sec.GetBool("heaters_off_during_probing", false); err != nil {
		return nil, err
	}
	if cfg.FansOffDuringProbe, err = sec.GetBool("fans_off_during_probing", false); err != nil {
		return nil, err
	}
	if cfg.EStepperOff, err = sec.GetBool("e_steppers_off", false); err != nil {
		return nil, err
	}
	if cfg.XYSteppersOff, err = sec.GetBool("xy_steppers_off", false); err != nil {
		return nil, err
	}
	if cfg.ProbeTare, err = sec.GetBool("probe_tare", false); err != nil {
		return nil, err
	}
	if cfg.TareOnlyWhenInactive, err = sec.GetBool("tare_only_when_inactive", false); err != nil {
		return nil, err
	}
	if cfg.ProbeTare {
		if pin, err := sec.GetPinOptional("tare_pin", config.PinOptions{CanInvert: true}); err != nil {
			return nil, err
		} else if pin != nil {
			cfg.TarePin = pin.FullName()
			cfg.TarePinInverted = pin.Invert
		}
	}
	if cfg.MeasureBacklash, err = sec.GetBool("measure_backlash", false); err != nil {
		return nil, err
	}
	if cfg.XTwistCompensation, err = sec.GetBool("x_twist_compensation", false); err != nil {
		return nil, err
	}
	if cfg.TemperatureCompensation, err = sec.GetBool("temperature_compensation", false); err != nil {
		return nil, err
	}
	if cfg.TriggeredWhenStowedTest, err = sec.GetBool("deactivate_on_each_sample", true); err != nil {
		return nil, err
	}
	if cfg.HighSpeedBLTouch, err = sec.GetBool("high_speed_mode", false); err != nil {
		return nil, err
	}
	if cfg.StallguardThreshold, err = sec.GetIntWithBounds("driver_sgthrs", nil, nil, 0); err != nil {
		return nil, err
	}

	switch variant {
	case Solenoid:
		if cfg.SolenoidPin, err = sec.Get("solenoid_pin"); err != nil {
			return nil, err
		}
	case ZServo:
		if cfg.ServoID, err = sec.Get("servo"); err != nil {
			return nil, err
		}
		if cfg.DeployAngle, err = sec.GetFloat("deploy_angle", 0); err != nil {
			return nil, err
		}
		if cfg.StowAngle, err = sec.GetFloat("stow_angle", 90); err != nil {
			return nil, err
		}
	case Sled:
		if cfg.SledDockX, err = sec.GetFloat("sled_dock_x"); err != nil {
			return nil, err
		}
		if cfg.SledOffsetX, err = sec.GetFloat("sled_offset_x", 0); err != nil {
			return nil, err
		}
	case TouchMI:
		if cfg.TouchMIRetractZ, err = sec.GetFloat("touchmi_retract_z", 2.0); err != nil {
			return nil, err
		}
	case RackAndPinion:
		if cfg.RackPinionDeployX, err = sec.GetFloat("rack_deploy_x"); err != nil {
			return nil, err
		}
		if cfg.RackPinionRetractX, err = sec.GetFloat("rack_retract_x"); err != nil {
			return nil, err
		}
	case AllenKey, MagMounted:
		deploy, err := parseWaypointOptions(sec, "deploy")
		if err != nil {
			return nil, err
		}
		stow, err := parseWaypointOptions(sec, "stow")
		if err != nil {
			return nil, err
		}
		cfg.DeployWaypoints = deploy
		cfg.StowWaypoints = stow
	}

	return cfg, nil
}

// parseWaypointOptions reads up to 5 "<kind>_position_N" XYZ triplets
// plus a shared "<kind>_speed", the Go equivalent of Marlin's
// NUM_DEPLOY/STOW_WAYPOINTS compile-time array.
func parseWaypointOptions(sec *config.Section, kind string) ([]Waypoint, error) {
	feedrate, err := sec.GetFloat(kind+"_speed", 50.0)
	if err != nil {
		return nil, err
	}
	var waypoints []Waypoint
	for i := 1; i <= 5; i++ {
		key := kind + "_position_" + strconv.Itoa(i)
		if !sec.HasOption(key) {
			break
		}
		coords, err := sec.GetFloatList(key, ",")
		if err != nil {
			return nil, err
		}
		if len(coords) != 3 {
			parts := make([]string, len(coords))
			for i, f := range coords {
				parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
			}
			return nil, config.ErrInvalidValue(sec.GetName(), key, strings.Join(parts, ","), "x,y,z triplet")
		}
		waypoints = append(waypoints, Waypoint{X: coords[0], Y: coords[1], Z: coords[2], Feedrate: feedrate})
	}
	return waypoints, nil
}

// sectionVariants maps a [section_name] to the Variant it configures,
// mirroring how printer.cfg names the probe by its hardware kind
// rather than always writing a generic [probe].
var sectionVariants = map[string]Variant{
	"probe":          FixedMount,
	"bltouch":        BLTouch,
	"servo_probe":    ZServo,
	"smart_effector": MagLev,
	"bd_sensor":      BDSensor,
}

// Module wraps a loaded Config/Settings pair as a config.Module, the
// way other host subsystems expose their parsed section as a named,
// registry-loadable unit.
type Module struct {
	name     string
	Config   *Config
	Settings *Settings
}

func (m *Module) GetName() string { return m.name }

// NewModuleFactory returns a config.ModuleFactory for the given section
// name, dispatching to the Variant that section name conventionally
// configures and falling back to FixedMount for unrecognized names
// (e.g. a user's custom probe section alias).
func NewModuleFactory(isDelta bool) config.ModuleFactory {
	return func(sec *config.Section) (config.Module, error) {
		variant, ok := sectionVariants[sec.GetName()]
		if !ok {
			variant = FixedMount
		}
		cfg, err := LoadConfig(sec, variant, isDelta)
		if err != nil {
			return nil, err
		}
		settings, err := LoadSettings(sec)
		if err != nil {
			return nil, err
		}
		return &Module{name: sec.GetName(), Config: cfg, Settings: settings}, nil
	}
}

// RegisterModule registers the probe module factory under every
// conventional probe-hardware section name, the way RegisterPrefix
// groups stepper_x/stepper_y/stepper_z under one "stepper" factory.
func RegisterModule(reg *config.Registry, isDelta bool) {
	factory := NewModuleFactory(isDelta)
	for name := range sectionVariants {
		reg.Register(name, factory)
	}
}

var _ config.Module = (*Module)(nil)

// LoadSettings parses the mutable [probe] preheat/stabilize options
// into a Settings value.
func LoadSettings(sec *config.Section) (*Settings, error) {
	s := &Settings{}
	var err error
	if s.PreheatHotendTemp, err = sec.GetFloat("preheat_hotend_temp", 0); err != nil {
		return nil, err
	}
	if s.PreheatBedTemp, err = sec.GetFloat("preheat_bed_temp", 0); err != nil {
		return nil, err
	}
	if s.TurnHeatersOff, err = sec.GetBool("turn_heaters_off", false); err != nil {
		return nil, err
	}
	if s.StabilizeTemperaturesAfterProbing, err = sec.GetBool("stabilize_temperatures_after_probing", false); err != nil {
		return nil, err
	}
	return s, nil
}
