// Command cof-calc calculates a coefficient of friction from recorded force
// passes without a tester head or database: two text files, one force reading
// per line, forward pass then reverse pass.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/tribolab-data/friction.report/internal/cof"
)

var (
	normalForce = flag.Float64("normal-force", 4.4, "normal force in pounds")
	trim        = flag.Float64("trim", 0.25/3.0, "fraction trimmed from each end of the forward pass")
	method      = flag.String("method", cof.MethodPercentileBand, "averaging method (percentile_band, one_stddev)")
	pairedCSV   = flag.Bool("paired-csv", false, "also print the paired-data CSV block")
)

func readSamples(path string) (cof.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// one reading per line, or several per line separated by commas
	var samples cof.Series
	scan := bufio.NewScanner(f)
	for lineNo := 1; scan.Scan(); lineNo++ {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, field := range strings.Split(line, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			samples = append(samples, v)
		}
	}
	return samples, scan.Err()
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <fwd-samples-file> <rev-samples-file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *trim < 0 || *trim >= 0.5 {
		log.Fatalf("-trim must be in [0, 0.5), got %v", *trim)
	}

	fwd, err := readSamples(flag.Arg(0))
	if err != nil {
		log.Fatalf("failed to read forward pass: %v", err)
	}
	rev, err := readSamples(flag.Arg(1))
	if err != nil {
		log.Fatalf("failed to read reverse pass: %v", err)
	}

	avg, err := cof.AveragerByName(*method)
	if err != nil {
		log.Fatal(err)
	}

	result, err := cof.Calculate(fwd, rev, *normalForce, *trim, avg)
	if err != nil && !errors.Is(err, cof.ErrNoValidPairs) {
		log.Fatalf("calculation failed: %v", err)
	}
	if errors.Is(err, cof.ErrNoValidPairs) {
		// still a measurement outcome: report the zero result
		log.Printf("no valid pairs after trimming (fwd=%d rev=%d trim=%v)", len(fwd), len(rev), *trim)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("failed to encode result: %v", err)
	}

	if *pairedCSV {
		if err := cof.WritePairedCSV(os.Stdout, fwd, rev, *trim); err != nil {
			log.Fatalf("failed to write paired CSV: %v", err)
		}
	}
}
