// Package instrument understands the line protocol of the friction tester
// head and turns its sample stream into stored, calculated test runs.
//
// The head emits newline-terminated records:
//
//	RUN,BEGIN,<normal_force_lb>   start of a run, applied normal force
//	P,F,<force_lb>                one forward-pass force sample
//	P,R,<force_lb>                one reverse-pass force sample
//	RUN,END                       run complete
//
// Anything else (boot banners, command echoes) is ignored.
package instrument

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	LineTypeRunBegin = "run_begin"
	LineTypeRunEnd   = "run_end"
	LineTypeSample   = "sample"
	LineTypeUnknown  = "unknown"
)

// ClassifyLine inspects a payload string from the tester head and returns a
// simple line type token. The classification is intentionally conservative:
// a malformed sample still classifies as a sample and fails in parsing,
// where the error can name what was wrong.
func ClassifyLine(line string) string {
	switch {
	case strings.HasPrefix(line, "RUN,BEGIN"):
		return LineTypeRunBegin
	case strings.HasPrefix(line, "RUN,END"):
		return LineTypeRunEnd
	case strings.HasPrefix(line, "P,"):
		return LineTypeSample
	default:
		return LineTypeUnknown
	}
}

// parseRunBegin extracts the applied normal force from a RUN,BEGIN line.
// The force field is optional; ok reports whether it was present.
func parseRunBegin(line string) (normalForceLb float64, ok bool, err error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 || strings.TrimSpace(fields[2]) == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad normal force in %q: %w", line, err)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("negative normal force in %q", line)
	}
	return v, true, nil
}

// parseSample extracts the pass direction and force reading from a P line.
func parseSample(line string) (direction string, forceLb float64, err error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return "", 0, fmt.Errorf("malformed sample line %q", line)
	}

	switch strings.TrimSpace(fields[1]) {
	case "F":
		direction = "fwd"
	case "R":
		direction = "rev"
	default:
		return "", 0, fmt.Errorf("unknown pass direction in %q", line)
	}

	forceLb, err = strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad force reading in %q: %w", line, err)
	}
	if forceLb < 0 {
		return "", 0, fmt.Errorf("negative force reading in %q", line)
	}

	return direction, forceLb, nil
}
