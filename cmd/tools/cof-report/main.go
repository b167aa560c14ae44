// Command cof-report renders charts for a recorded test run: the raw forward
// and reverse passes plus the paired friction and bias series, as an
// interactive HTML page and a static PNG.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/tribolab-data/friction.report/internal/cof"
	"github.com/tribolab-data/friction.report/internal/db"
)

var (
	dbFile = flag.String("db", "friction_data.db", "SQLite database file")
	runArg = flag.String("run", "latest", "run ID to chart, or \"latest\"")
	outDir = flag.String("o", "reports", "output directory")
)

func loadRun(d *db.DB, arg string) (db.TestRun, error) {
	if arg == "latest" {
		return d.LatestTestRun()
	}
	return d.TestRun(arg)
}

// pairedSeries re-derives the per-position friction and bias values from the
// stored raw passes, using the trim fraction the run was calculated with.
func pairedSeries(fwd, rev cof.Series, trimFraction float64) (friction, bias []float64, err error) {
	plan, err := cof.PlanTrim(len(fwd), len(rev), trimFraction)
	if err != nil {
		return nil, nil, err
	}
	friction = make([]float64, plan.PairedCount)
	bias = make([]float64, plan.PairedCount)
	for i := 0; i < plan.PairedCount; i++ {
		f, r := plan.Pair(fwd, rev, i)
		friction[i] = math.Abs(f-r) / 2
		bias[i] = (f + r) / 2
	}
	return friction, bias, nil
}

func lineData(values []float64) []opts.LineData {
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		data[i] = opts.LineData{Value: v}
	}
	return data
}

func renderHTML(run db.TestRun, friction, bias []float64, path string) error {
	indexes := make([]int, len(friction))
	for i := range indexes {
		indexes[i] = i
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("Run %s", run.RunID),
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Run %s", run.RunID),
			Subtitle: fmt.Sprintf("cof=%.4f pairs=%d normal=%.2flb method=%s", run.Cof, run.PairedCount, run.NormalForceLb, run.AveragingMethod),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "pair index"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "force (lb)"}),
	)
	line.SetXAxis(indexes).
		AddSeries("friction", lineData(friction)).
		AddSeries("bias", lineData(bias))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}

func xyPoints(values []float64) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(i)
		pts[i].Y = v
	}
	return pts
}

func renderPNG(run db.TestRun, fwd, rev cof.Series, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s raw passes", run.RunID)
	p.X.Label.Text = "Position"
	p.Y.Label.Text = "Force (lb)"

	fwdLine, err := plotter.NewLine(xyPoints(fwd))
	if err != nil {
		return err
	}
	fwdLine.Width = vg.Points(1)

	revLine, err := plotter.NewLine(xyPoints(rev))
	if err != nil {
		return err
	}
	revLine.Width = vg.Points(1)
	revLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(fwdLine, revLine)
	p.Legend.Add("forward", fwdLine)
	p.Legend.Add("reverse", revLine)

	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

func main() {
	flag.Parse()

	d, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer d.Close()

	run, err := loadRun(d, *runArg)
	if err != nil {
		log.Fatalf("failed to load run %q: %v", *runArg, err)
	}

	fwd, rev, err := d.RunSamples(run.RunID)
	if err != nil {
		log.Fatalf("failed to load samples for run %s: %v", run.RunID, err)
	}

	friction, bias, err := pairedSeries(fwd, rev, run.TrimFraction)
	if errors.Is(err, cof.ErrNoValidPairs) {
		log.Fatalf("run %s has no valid pairs (fwd=%d rev=%d trim=%v)", run.RunID, len(fwd), len(rev), run.TrimFraction)
	}
	if err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	htmlFile := filepath.Join(*outDir, fmt.Sprintf("run-%s.html", run.RunID))
	if err := renderHTML(run, friction, bias, htmlFile); err != nil {
		log.Fatalf("failed to render HTML chart: %v", err)
	}

	pngFile := filepath.Join(*outDir, fmt.Sprintf("run-%s.png", run.RunID))
	if err := renderPNG(run, fwd, rev, pngFile); err != nil {
		log.Fatalf("failed to render PNG chart: %v", err)
	}

	log.Printf("wrote %s and %s", htmlFile, pngFile)
	log.Print(run.String())
}
