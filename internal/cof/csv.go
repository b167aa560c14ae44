package cof

import (
	"fmt"
	"io"
	"math"
)

// Markers bracketing the paired-data CSV block so host-side tooling can
// extract it from an interleaved log stream.
const (
	PairedCSVStart = "---PAIRED_CSV_START---"
	PairedCSVEnd   = "---PAIRED_CSV_END---"
)

// WritePairedCSV emits the paired data as a bracketed CSV block: one
// `pos_index,fwd_force,rev_force,friction,bias` row per pair with forces
// formatted to 4 decimal digits. Each pair is recomputed on the fly rather
// than buffered, so the dump needs no memory beyond the row being written.
// On trim failure the markers bracket a literal error line instead of rows.
func WritePairedCSV(w io.Writer, fwd, rev Series, trimFraction float64) error {
	plan, err := PlanTrim(len(fwd), len(rev), trimFraction)
	if err != nil {
		_, werr := fmt.Fprintf(w, "%s\nERROR: no valid pairs\n%s\n", PairedCSVStart, PairedCSVEnd)
		return werr
	}

	if _, err := fmt.Fprintf(w, "%s\npos_index,fwd_force,rev_force,friction,bias\n", PairedCSVStart); err != nil {
		return err
	}

	for i := 0; i < plan.PairedCount; i++ {
		f, r := plan.Pair(fwd, rev, i)
		friction := math.Abs(f-r) / 2
		bias := (f + r) / 2
		if _, err := fmt.Fprintf(w, "%d,%.4f,%.4f,%.4f,%.4f\n", i, f, r, friction, bias); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "%s\n", PairedCSVEnd)
	return err
}
