// Package runlog implements spec.md §4.8's run coordinator: it assigns a
// run_id, writes structured JSONL log records in the teacher's typed-error
// idiom (internal/errors' Op/Kind/SkipCounter family, generalized into a
// leveled log facade), and guards the DBLink tmp file's single-writer
// invariant with a file lock grounded on the pack's gofrs/flock usage.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ddbj/dblink/internal/errs"
)

// Level is one of the five structured log levels of spec.md §6.
type Level string

const (
	Critical Level = "CRITICAL"
	ErrorL   Level = "ERROR"
	Warning  Level = "WARNING"
	Info     Level = "INFO"
	Debug    Level = "DEBUG"
)

// Record is one JSONL run-log entry (spec.md §6 "Run log").
type Record struct {
	TS            time.Time `json:"ts"`
	Level         Level     `json:"level"`
	RunID         string    `json:"run_id"`
	RunName       string    `json:"run_name"`
	Msg           string    `json:"msg"`
	File          string    `json:"file,omitempty"`
	Accession     string    `json:"accession,omitempty"`
	Source        string    `json:"source,omitempty"`
	DebugCategory string    `json:"debug_category,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Outcome is the terminal status written in a run's `end` record.
type Outcome string

const (
	Success Outcome = "SUCCESS"
	Failed  Outcome = "FAILED"
)

// Mirror receives every record a Coordinator writes, in addition to the
// JSONL file, so a secondary index (logstore's SQLite mirror) can stay
// current without re-parsing rotated log files.
type Mirror interface {
	Write(Record)
}

// Coordinator assigns run_id = {run_name}_{YYYYMMDDHHMMSS} and writes a
// `start` record; the caller defers End, which writes the terminal `end`
// record (spec.md §4.8).
type Coordinator struct {
	RunName string
	RunID   string

	mu     sync.Mutex
	out    *lumberjack.Logger
	counts map[Level]int
	mirror Mirror

	dblinkLock *flock.Flock
}

// Option configures a Coordinator at Start time.
type Option func(*Coordinator)

// WithMirror arms m to receive every record this Coordinator writes.
func WithMirror(m Mirror) Option {
	return func(c *Coordinator) { c.mirror = m }
}

// Start opens logsDir/{run_id}.log.jsonl (rotated by lumberjack the way
// the rest of the teacher's stack rotates output) and writes the `start`
// record.
func Start(logsDir, runName string, now time.Time, opts ...Option) (*Coordinator, error) {
	runID := fmt.Sprintf("%s_%s", runName, now.Format("20060102150405"))
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, errs.E(errs.Op("runlog.Start"), errs.KindResourceMissing, err)
	}

	c := &Coordinator{
		RunName: runName,
		RunID:   runID,
		out: &lumberjack.Logger{
			Filename: filepath.Join(logsDir, runID+".log.jsonl"),
			MaxSize:  100,
			Compress: false,
		},
		counts: make(map[Level]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.write(Record{TS: now, Level: Info, RunID: runID, RunName: runName, Msg: "start"})
	return c, nil
}

// Lock acquires the exclusive lock on the DBLink tmp file, ensuring only
// one step at a time holds the write lock (spec.md §4.8).
func (c *Coordinator) Lock(lockPath string) error {
	c.dblinkLock = flock.New(lockPath)
	locked, err := c.dblinkLock.TryLock()
	if err != nil {
		return errs.E(errs.Op("runlog.Coordinator.Lock"), errs.KindResourceMissing, err)
	}
	if !locked {
		return errs.E(errs.Op("runlog.Coordinator.Lock"), errs.KindResourceMissing, "another step already holds the DBLink write lock")
	}
	return nil
}

// Unlock releases the DBLink write lock, if held.
func (c *Coordinator) Unlock() {
	if c.dblinkLock != nil {
		_ = c.dblinkLock.Unlock()
	}
}

func (c *Coordinator) write(r Record) {
	c.mu.Lock()
	c.counts[r.Level]++
	mirror := c.mirror
	c.mu.Unlock()

	line, err := json.Marshal(r)
	if err == nil {
		line = append(line, '\n')
		_, _ = c.out.Write(line)
	}
	if mirror != nil {
		mirror.Write(r)
	}
}

func (c *Coordinator) record(level Level, msg string, fields ...func(*Record)) {
	r := Record{TS: time.Now(), Level: level, RunID: c.RunID, RunName: c.RunName, Msg: msg}
	for _, f := range fields {
		f(&r)
	}
	c.write(r)
}

// WithFile sets the optional `file` field.
func WithFile(file string) func(*Record) { return func(r *Record) { r.File = file } }

// WithAccession sets the optional `accession` field.
func WithAccession(acc string) func(*Record) { return func(r *Record) { r.Accession = acc } }

// WithSource sets the optional `source` field.
func WithSource(src string) func(*Record) { return func(r *Record) { r.Source = src } }

// Info logs an INFO record.
func (c *Coordinator) Info(msg string, fields ...func(*Record)) { c.record(Info, msg, fields...) }

// Warning logs a WARNING record.
func (c *Coordinator) Warning(msg string, fields ...func(*Record)) {
	c.record(Warning, msg, fields...)
}

// Error logs an ERROR record. err is required per spec.md §6.
func (c *Coordinator) Error(msg string, err error, fields ...func(*Record)) {
	fields = append(fields, func(r *Record) { r.Error = err.Error() })
	c.record(ErrorL, msg, fields...)
}

// Critical logs a CRITICAL record. Callers must treat this as fatal to
// the run (spec.md §7 "Resource-missing / connection -> CRITICAL, abort
// step").
func (c *Coordinator) Critical(msg string, err error, fields ...func(*Record)) {
	if err != nil {
		fields = append(fields, func(r *Record) { r.Error = err.Error() })
	}
	c.record(Critical, msg, fields...)
}

// DebugSkip logs a DEBUG record; category is required per spec.md §6.
func (c *Coordinator) DebugSkip(msg, category string, fields ...func(*Record)) {
	fields = append(fields, func(r *Record) { r.DebugCategory = category })
	c.record(Debug, msg, fields...)
}

// LogClassifyError reports an *errs.Error from accession.Classify (or
// anything else carrying a Category) as the equivalent DEBUG record.
func (c *Coordinator) LogClassifyError(msg string, err error, fields ...func(*Record)) {
	category := "UNKNOWN"
	if e, ok := err.(*errs.Error); ok && e.Category != "" {
		category = e.Category
	}
	c.DebugSkip(msg, category, fields...)
}

// End writes the terminal `end` record. Call via defer immediately after
// Start so it always fires, matching spec.md §4.8's armed-termination-
// handler requirement.
func (c *Coordinator) End(outcome Outcome) error {
	c.record(Info, "end", func(r *Record) {
		if outcome == Failed || c.counts[Critical] > 0 {
			r.Msg = "end:" + string(Failed)
		} else {
			r.Msg = "end:" + string(Success)
		}
	})
	c.Unlock()
	return c.out.Close()
}

// Failed reports whether any CRITICAL record was written this run —
// callers use this to decide the process exit code (spec.md §6 "Exit 0
// on SUCCESS; non-zero on any step failure").
func (c *Coordinator) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[Critical] > 0
}
