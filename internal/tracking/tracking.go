// Package tracking records per-epoch training metrics for later analysis.
package tracking

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record keys emitted once per epoch.
const (
	TrainLoss    = "Train Loss"
	TrainAcc     = "Train Acc"
	ValLoss      = "Val Loss"
	ValAcc       = "Val Acc"
	LearningRate = "Learning Rate"
)

// Record is one step's worth of named scalar metrics.
type Record map[string]float64

// Tracker receives records keyed by step.
type Tracker interface {
	Log(step int, rec Record) error
	Close() error
}

// Nop discards everything. It is used when tracking is disabled.
type Nop struct{}

// Log implements Tracker.
func (Nop) Log(int, Record) error { return nil }

// Close implements Tracker.
func (Nop) Close() error { return nil }

// Run identifies a tracked training run.
type Run struct {
	ID      string    `json:"id"`
	Project string    `json:"project"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
	Config  any       `json:"config,omitempty"`
}

type line struct {
	Run     *Run      `json:"run,omitempty"`
	Step    int       `json:"step,omitempty"`
	Time    time.Time `json:"time"`
	Metrics Record    `json:"metrics,omitempty"`
}

// File appends JSON lines to dir/<project>/<run-id>.jsonl. The first line
// describes the run; every later line carries one step's record.
type File struct {
	mu   sync.Mutex
	run  Run
	path string
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	now  func() time.Time
}

// NewFile opens a new run log. config is stored verbatim in the header.
func NewFile(dir, project, name string, config any) (*File, error) {
	run := Run{
		ID:      uuid.NewString(),
		Project: project,
		Name:    name,
		Started: time.Now().UTC(),
		Config:  config,
	}
	runDir := filepath.Join(dir, project)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("tracking: create run dir: %w", err)
	}
	path := filepath.Join(runDir, run.ID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tracking: open run log: %w", err)
	}
	w := bufio.NewWriter(f)
	t := &File{run: run, path: path, f: f, w: w, enc: json.NewEncoder(w), now: time.Now}
	if err := t.write(line{Run: &t.run, Time: run.Started}); err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

// Run returns the run header.
func (t *File) Run() Run { return t.run }

// Path returns the log file location.
func (t *File) Path() string { return t.path }

// Log implements Tracker. Records are flushed immediately so a killed run
// keeps every completed epoch.
func (t *File) Log(step int, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.write(line{Step: step, Time: t.now().UTC(), Metrics: rec})
}

func (t *File) write(l line) error {
	if err := t.enc.Encode(l); err != nil {
		return fmt.Errorf("tracking: encode: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("tracking: flush: %w", err)
	}
	return nil
}

// Close implements Tracker.
func (t *File) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Flush(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}
