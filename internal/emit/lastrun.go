package emit

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ddbj/dblink/internal/errs"
)

// LastRun is the persisted mapping from family to the UTC timestamp of its
// last successful run (spec.md §4.7 "last_run.json discipline"). A nil
// entry means the family has never completed a run and must run full.
type LastRun struct {
	Bioproject *time.Time `json:"bioproject"`
	Biosample  *time.Time `json:"biosample"`
	SRA        *time.Time `json:"sra"`
	JGA        *time.Time `json:"jga"`
}

// LoadLastRun reads path, returning a zero-value LastRun (all families
// full) if the file does not yet exist.
func LoadLastRun(path string) (*LastRun, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LastRun{}, nil
	}
	if err != nil {
		return nil, errs.E(errs.Op("emit.LoadLastRun"), errs.KindResourceMissing, err)
	}
	var lr LastRun
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, errs.E(errs.Op("emit.LoadLastRun"), errs.KindParse, err)
	}
	return &lr, nil
}

// Get returns the family's last-run timestamp, or nil if it has none.
func (lr *LastRun) Get(family Family) *time.Time {
	switch family {
	case Bioproject:
		return lr.Bioproject
	case Biosample:
		return lr.Biosample
	case SRA:
		return lr.SRA
	case JGA:
		return lr.JGA
	default:
		return nil
	}
}

// Set records family's last-run timestamp in lr.
func (lr *LastRun) Set(family Family, ts time.Time) {
	t := ts
	switch family {
	case Bioproject:
		lr.Bioproject = &t
	case Biosample:
		lr.Biosample = &t
	case SRA:
		lr.SRA = &t
	case JGA:
		lr.JGA = &t
	}
}

// Save rewrites path atomically: write to a .tmp sibling, fsync, rename
// (spec.md §5 "last_run.json is rewritten atomically").
func (lr *LastRun) Save(path string) error {
	data, err := json.MarshalIndent(lr, "", "  ")
	if err != nil {
		return errs.E(errs.Op("emit.LastRun.Save"), errs.KindConfig, err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.E(errs.Op("emit.LastRun.Save"), errs.KindResourceMissing, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errs.E(errs.Op("emit.LastRun.Save"), errs.KindResourceMissing, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.E(errs.Op("emit.LastRun.Save"), errs.KindResourceMissing, err)
	}
	if err := f.Close(); err != nil {
		return errs.E(errs.Op("emit.LastRun.Save"), errs.KindResourceMissing, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.E(errs.Op("emit.LastRun.Save"), errs.KindResourceMissing, err)
	}
	return nil
}

// EffectiveCutoff computes last[family] - marginDays, per spec.md §4.7.
// ok is false when the family has never run (full mode is forced).
func EffectiveCutoff(lr *LastRun, family Family, marginDays int) (cutoff time.Time, ok bool) {
	ts := lr.Get(family)
	if ts == nil {
		return time.Time{}, false
	}
	return ts.AddDate(0, 0, -marginDays), true
}
