package probe

import (
	"testing"

	"klipper-go-migration/pkg/config"
)

func mustAutosave(t *testing.T, data string) *config.AutosaveConfig {
	t.Helper()
	cfg, err := config.LoadString(data)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	return config.NewAutosaveConfig(cfg, "")
}

func TestPersistZOffsetWritesOption(t *testing.T) {
	ac := mustAutosave(t, "[probe]\nz_offset: 0\n")

	if err := PersistZOffset(ac, "probe", -0.725); err != nil {
		t.Fatalf("PersistZOffset() error = %v", err)
	}
	if !ac.HasChanges() {
		t.Fatalf("expected HasChanges() = true after PersistZOffset")
	}
	sec, err := ac.GetSection("probe")
	if err != nil {
		t.Fatalf("GetSection() error = %v", err)
	}
	got, err := sec.GetFloat("z_offset")
	if err != nil {
		t.Fatalf("GetFloat() error = %v", err)
	}
	if got != -0.725 {
		t.Fatalf("z_offset = %v, want -0.725", got)
	}
}

func TestLoadProbeRecordMissingReturnsZeroValue(t *testing.T) {
	cfg, err := config.LoadString("[probe]\nspeed: 5\n")
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	sec, err := cfg.GetSection("probe")
	if err != nil {
		t.Fatalf("GetSection() error = %v", err)
	}

	rec, err := LoadProbeRecord(sec)
	if err != nil {
		t.Fatalf("LoadProbeRecord() error = %v", err)
	}
	if rec != (ProbeRecord{}) {
		t.Fatalf("LoadProbeRecord() = %+v, want zero value", rec)
	}
}

func TestSaveThenLoadProbeRecordRoundTrips(t *testing.T) {
	ac := mustAutosave(t, "[probe]\nz_offset: 0\n")
	want := ProbeRecord{ZOffset: -0.4, SampleZHeight: 0.12, AtX: 100, AtY: 150}

	if err := SaveProbeRecord(ac, "probe", want); err != nil {
		t.Fatalf("SaveProbeRecord() error = %v", err)
	}
	sec, err := ac.GetSection("probe")
	if err != nil {
		t.Fatalf("GetSection() error = %v", err)
	}
	got, err := LoadProbeRecord(sec)
	if err != nil {
		t.Fatalf("LoadProbeRecord() error = %v", err)
	}
	if got != want {
		t.Fatalf("LoadProbeRecord() = %+v, want %+v", got, want)
	}
}
