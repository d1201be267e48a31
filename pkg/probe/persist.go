package probe

import (
	"strconv"

	"klipper-go-migration/pkg/config"
)

// PersistZOffset writes a freshly calibrated Z offset back into the
// probe's config section and saves it to disk, the way a real host's
// SAVE_CONFIG command rewrites printer.cfg after PROBE_CALIBRATE or
// Z_OFFSET_APPLY_PROBE.
func PersistZOffset(cfg *config.AutosaveConfig, sectionName string, zOffset float64) error {
	return cfg.SetOption(sectionName, "z_offset", strconv.FormatFloat(zOffset, 'f', 6, 64))
}

// ProbeRecord is a previously calibrated probe result, persisted
// across restarts the same way a bed mesh or axis-twist table is: read
// back into Settings/Config on startup instead of re-measured.
type ProbeRecord struct {
	ZOffset       float64
	SampleZHeight float64
	AtX, AtY      float64
}

// LoadProbeRecord reads a previously persisted calibration back from
// the [section_name] options SetOption/SaveChanges wrote, returning
// the zero ProbeRecord (not an error) when no calibration has been
// saved yet.
func LoadProbeRecord(sec *config.Section) (ProbeRecord, error) {
	var rec ProbeRecord
	if !sec.HasOption("z_offset") {
		return rec, nil
	}
	var err error
	if rec.ZOffset, err = sec.GetFloat("z_offset", 0); err != nil {
		return rec, err
	}
	if rec.SampleZHeight, err = sec.GetFloat("last_sample_z", 0); err != nil {
		return rec, err
	}
	if rec.AtX, err = sec.GetFloat("last_sample_x", 0); err != nil {
		return rec, err
	}
	if rec.AtY, err = sec.GetFloat("last_sample_y", 0); err != nil {
		return rec, err
	}
	return rec, nil
}

// SaveProbeRecord persists a calibration result's full context, not
// just the offset, so a future LoadProbeRecord can report where on
// the bed the last calibration was taken.
func SaveProbeRecord(cfg *config.AutosaveConfig, sectionName string, rec ProbeRecord) error {
	if err := cfg.SetOption(sectionName, "z_offset", strconv.FormatFloat(rec.ZOffset, 'f', 6, 64)); err != nil {
		return err
	}
	if err := cfg.SetOption(sectionName, "last_sample_z", strconv.FormatFloat(rec.SampleZHeight, 'f', 6, 64)); err != nil {
		return err
	}
	if err := cfg.SetOption(sectionName, "last_sample_x", strconv.FormatFloat(rec.AtX, 'f', 3, 64)); err != nil {
		return err
	}
	return cfg.SetOption(sectionName, "last_sample_y", strconv.FormatFloat(rec.AtY, 'f', 3, 64))
}
