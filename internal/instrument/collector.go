package instrument

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/tribolab-data/friction.report/internal/cof"
	"github.com/tribolab-data/friction.report/internal/config"
	"github.com/tribolab-data/friction.report/internal/db"
	"github.com/tribolab-data/friction.report/internal/monitoring"
	"github.com/tribolab-data/friction.report/internal/timeutil"
)

// Collector assembles tester-head lines into complete runs, calculates the
// COF for each, and persists both the result and the raw passes.
//
// The tester is a single physical device on a single serial line, so lines
// arrive from one goroutine; Collector is not safe for concurrent HandleLine
// calls.
type Collector struct {
	db    *db.DB
	cfg   *config.TuningConfig
	clock timeutil.Clock

	// PairedDump, if non-nil, receives the bracketed paired-data CSV block
	// of every completed run (operator diagnostics).
	PairedDump io.Writer

	active *activeRun
}

type activeRun struct {
	id            string
	startedAt     time.Time
	normalForceLb float64
	fwd           cof.Series
	rev           cof.Series
}

// NewCollector creates a Collector using the given storage, tuning and clock.
func NewCollector(d *db.DB, cfg *config.TuningConfig, clock timeutil.Clock) *Collector {
	return &Collector{db: d, cfg: cfg, clock: clock}
}

// HandleLine consumes one line from the tester head. Malformed lines and
// out-of-sequence records are logged and skipped; acquisition must survive a
// flaky head without aborting (a bad run is reported, never fatal).
func (c *Collector) HandleLine(line string) error {
	switch ClassifyLine(line) {
	case LineTypeRunBegin:
		c.beginRun(line)
	case LineTypeSample:
		if c.active == nil {
			monitoring.Logf("instrument: sample outside a run, dropped: %q", line)
			return nil
		}
		direction, force, err := parseSample(line)
		if err != nil {
			monitoring.Logf("instrument: %v", err)
			return nil
		}
		if direction == db.DirectionForward {
			c.active.fwd = append(c.active.fwd, force)
		} else {
			c.active.rev = append(c.active.rev, force)
		}
	case LineTypeRunEnd:
		if c.active == nil {
			monitoring.Logf("instrument: RUN,END without a run, dropped")
			return nil
		}
		run := c.active
		c.active = nil
		return c.completeRun(run)
	default:
		monitoring.Logf("instrument: unknown line: %q", line)
	}
	return nil
}

func (c *Collector) beginRun(line string) {
	if c.active != nil {
		age := c.clock.Since(c.active.startedAt)
		monitoring.Logf("instrument: run %s abandoned after %v, discarding", c.active.id, age)
	}

	normalForce := c.cfg.GetNormalForceLb()
	if v, ok, err := parseRunBegin(line); err != nil {
		monitoring.Logf("instrument: %v, using configured normal force", err)
	} else if ok {
		normalForce = v
	}

	c.active = &activeRun{
		id:            uuid.NewString(),
		startedAt:     c.clock.Now(),
		normalForceLb: normalForce,
	}
}

// Expired reports whether the open run (if any) has outlived the configured
// run timeout. The daemon polls this to discard runs whose RUN,END never
// arrived, e.g. after the head lost power mid-pass.
func (c *Collector) Expired() bool {
	return c.active != nil && c.clock.Since(c.active.startedAt) > c.cfg.GetRunTimeout()
}

// DiscardExpired drops the open run if it has expired.
func (c *Collector) DiscardExpired() {
	if c.Expired() {
		monitoring.Logf("instrument: run %s timed out, discarding", c.active.id)
		c.active = nil
	}
}

func (c *Collector) completeRun(run *activeRun) error {
	if min := c.cfg.GetMinSamplesPerPass(); len(run.fwd) < min || len(run.rev) < min {
		monitoring.Logf("instrument: run %s too short (fwd=%d rev=%d min=%d), discarding",
			run.id, len(run.fwd), len(run.rev), min)
		return nil
	}

	method := c.cfg.GetAveragingMethod()
	avg, err := cof.AveragerByName(method)
	if err != nil {
		return fmt.Errorf("run %s: %w", run.id, err)
	}

	trim := c.cfg.GetTrimFraction()
	result, calcErr := cof.Calculate(run.fwd, run.rev, run.normalForceLb, trim, avg)
	// ErrNoValidPairs still records the zero result: the operator needs to
	// see that the run happened and produced nothing usable.
	if calcErr != nil {
		monitoring.Logf("instrument: run %s: %v", run.id, calcErr)
	}

	record := db.TestRun{
		RunID:           run.id,
		StartedAt:       run.startedAt,
		CompletedAt:     c.clock.Now(),
		NormalForceLb:   run.normalForceLb,
		TrimFraction:    trim,
		AveragingMethod: method,
		Cof:             result.Cof,
		AvgForceLb:      result.AvgForceLb,
		AvgBiasLb:       result.AvgBias,
		PairedCount:     int64(result.PairedCount),
		FwdSamples:      int64(len(run.fwd)),
		RevSamples:      int64(len(run.rev)),
	}
	if err := c.db.RecordTestRun(record); err != nil {
		return err
	}
	if err := c.db.RecordSamples(run.id, db.DirectionForward, run.fwd); err != nil {
		return err
	}
	if err := c.db.RecordSamples(run.id, db.DirectionReverse, run.rev); err != nil {
		return err
	}

	monitoring.Logf("instrument: recorded run %s cof=%.4f pairs=%d", run.id, result.Cof, result.PairedCount)

	if c.PairedDump != nil {
		if err := cof.WritePairedCSV(c.PairedDump, run.fwd, run.rev, trim); err != nil {
			monitoring.Logf("instrument: paired CSV dump failed: %v", err)
		}
	}

	return nil
}
