package probe

import (
	"testing"

	"klipper-go-migration/pkg/config"
)

func mustSection(t *testing.T, data, name string) *config.Section {
	t.Helper()
	cfg, err := config.LoadString(data)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	sec, err := cfg.GetSection(name)
	if err != nil {
		t.Fatalf("GetSection(%q) error = %v", name, err)
	}
	return sec
}

func TestLoadConfigDefaults(t *testing.T) {
	sec := mustSection(t, `
[probe]
z_offset: -0.5
`, "probe")

	cfg, err := LoadConfig(sec, FixedMount, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Offset.Z != -0.5 {
		t.Fatalf("Offset.Z = %v, want -0.5", cfg.Offset.Z)
	}
	if cfg.FastFeedrate != 5.0 {
		t.Fatalf("FastFeedrate = %v, want default 5.0", cfg.FastFeedrate)
	}
	if cfg.SlowFeedrate != cfg.FastFeedrate {
		t.Fatalf("SlowFeedrate = %v, want to default to FastFeedrate", cfg.SlowFeedrate)
	}
	if cfg.TotalSamples != 1 {
		t.Fatalf("TotalSamples = %v, want default 1", cfg.TotalSamples)
	}
	if !cfg.TriggeredWhenStowedTest {
		t.Fatalf("TriggeredWhenStowedTest = false, want default true")
	}
	if cfg.Clearances.BigRaise != BigRaiseDistance {
		t.Fatalf("Clearances.BigRaise = %v, want %v", cfg.Clearances.BigRaise, BigRaiseDistance)
	}
}

func TestLoadConfigExplicitValues(t *testing.T) {
	sec := mustSection(t, `
[probe]
x_offset: 10
y_offset: -5
z_offset: -0.3
speed: 10
lift_speed: 3
probe_speed: 40
samples: 5
samples_result: 1
z_clearance_deploy_probe: 12
z_clearance_between_probes: 6
heaters_off_during_probing: True
probe_tare: True
tare_only_when_inactive: True
`, "probe")

	cfg, err := LoadConfig(sec, FixedMount, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Offset != (Offset{X: 10, Y: -5, Z: -0.3}) {
		t.Fatalf("Offset = %+v, want {10 -5 -0.3}", cfg.Offset)
	}
	if cfg.FastFeedrate != 10 || cfg.SlowFeedrate != 3 || cfg.XYProbeFeedrate != 40 {
		t.Fatalf("feedrates = (%v, %v, %v), want (10, 3, 40)", cfg.FastFeedrate, cfg.SlowFeedrate, cfg.XYProbeFeedrate)
	}
	if cfg.TotalSamples != 5 || cfg.ExtraSamples != 1 {
		t.Fatalf("samples = (%v, %v), want (5, 1)", cfg.TotalSamples, cfg.ExtraSamples)
	}
	if !cfg.HeatersOffDuringProbe || !cfg.ProbeTare || !cfg.TareOnlyWhenInactive {
		t.Fatalf("boolean flags not parsed: heaters=%v tare=%v tareInactive=%v", cfg.HeatersOffDuringProbe, cfg.ProbeTare, cfg.TareOnlyWhenInactive)
	}
}

func TestLoadConfigSolenoidVariant(t *testing.T) {
	sec := mustSection(t, `
[probe]
z_offset: -1
solenoid_pin: PA0
`, "probe")

	cfg, err := LoadConfig(sec, Solenoid, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SolenoidPin != "PA0" {
		t.Fatalf("SolenoidPin = %q, want PA0", cfg.SolenoidPin)
	}
}

func TestLoadConfigZServoVariant(t *testing.T) {
	sec := mustSection(t, `
[servo_probe]
z_offset: -1
servo: probe_servo
deploy_angle: 60
stow_angle: 170
`, "servo_probe")

	cfg, err := LoadConfig(sec, ZServo, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ServoID != "probe_servo" || cfg.DeployAngle != 60 || cfg.StowAngle != 170 {
		t.Fatalf("servo config = %+v", cfg)
	}
}

func TestLoadConfigAllenKeyWaypoints(t *testing.T) {
	sec := mustSection(t, `
[probe]
z_offset: -1
deploy_speed: 80
deploy_position_1: 20, 20, 5
deploy_position_2: 40, 40, 0
stow_speed: 80
stow_position_1: 40, 40, 5
`, "probe")

	cfg, err := LoadConfig(sec, AllenKey, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if len(cfg.DeployWaypoints) != 2 {
		t.Fatalf("len(DeployWaypoints) = %v, want 2", len(cfg.DeployWaypoints))
	}
	if cfg.DeployWaypoints[0] != (Waypoint{X: 20, Y: 20, Z: 5, Feedrate: 80}) {
		t.Fatalf("DeployWaypoints[0] = %+v", cfg.DeployWaypoints[0])
	}
	if len(cfg.StowWaypoints) != 1 {
		t.Fatalf("len(StowWaypoints) = %v, want 1", len(cfg.StowWaypoints))
	}
}

func TestLoadConfigWaypointBadTripletErrors(t *testing.T) {
	sec := mustSection(t, `
[probe]
z_offset: -1
deploy_position_1: 20, 20
`, "probe")

	if _, err := LoadConfig(sec, AllenKey, false); err == nil {
		t.Fatalf("LoadConfig() expected an error for a malformed waypoint triplet")
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	sec := mustSection(t, `
[probe]
z_offset: -1
preheat_hotend_temp: 150
preheat_bed_temp: 50
turn_heaters_off: True
`, "probe")

	settings, err := LoadSettings(sec)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if settings.PreheatHotendTemp != 150 || settings.PreheatBedTemp != 50 || !settings.TurnHeatersOff {
		t.Fatalf("settings = %+v", settings)
	}
}

func TestRegisterModuleDispatchesByVariant(t *testing.T) {
	cfg, err := config.LoadString(`
[probe]
z_offset: -0.5

[bltouch]
z_offset: -2.5
`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}

	reg := config.NewRegistry()
	RegisterModule(reg, false)

	modules, err := reg.LoadModules(cfg)
	if err != nil {
		t.Fatalf("LoadModules() error = %v", err)
	}
	probeMod, ok := modules["probe"].(*Module)
	if !ok {
		t.Fatalf("modules[probe] missing or wrong type: %T", modules["probe"])
	}
	if probeMod.Config.Variant != FixedMount {
		t.Fatalf("probe variant = %v, want FixedMount", probeMod.Config.Variant)
	}
	bltouchMod, ok := modules["bltouch"].(*Module)
	if !ok {
		t.Fatalf("modules[bltouch] missing or wrong type: %T", modules["bltouch"])
	}
	if bltouchMod.Config.Variant != BLTouch {
		t.Fatalf("bltouch variant = %v, want BLTouch", bltouchMod.Config.Variant)
	}
}

func TestModuleFactoryFallsBackToFixedMountForUnknownName(t *testing.T) {
	cfg, err := config.LoadString(`
[my_custom_probe]
z_offset: -1
`)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	sec, err := cfg.GetSection("my_custom_probe")
	if err != nil {
		t.Fatalf("GetSection() error = %v", err)
	}

	factory := NewModuleFactory(false)
	mod, err := factory(sec)
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}
	probeMod := mod.(*Module)
	if probeMod.Config.Variant != FixedMount {
		t.Fatalf("Variant = %v, want FixedMount fallback", probeMod.Config.Variant)
	}
}
