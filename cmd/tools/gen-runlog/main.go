// Command gen-runlog generates synthetic tester-head line fixtures for dev
// mode replay: a RUN,BEGIN marker, a forward and a reverse pass of noisy
// force samples, and a RUN,END marker per run.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
)

var (
	output      = flag.String("o", "fixtures.txt", "output path")
	runs        = flag.Int("runs", 3, "number of test runs")
	samples     = flag.Int("samples", 40, "samples per pass")
	normalForce = flag.Float64("normal-force", 4.4, "normal force in pounds")
	friction    = flag.Float64("friction", 0.35, "target coefficient of friction")
	bias        = flag.Float64("bias", 4.0, "rig preload force in pounds, must exceed the friction force")
	noise       = flag.Float64("noise", 0.05, "gaussian noise sigma in pounds")
	seed        = flag.Int64("seed", 1, "random seed")
)

func main() {
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	rng := rand.New(rand.NewSource(*seed))

	// the load cell reads preload plus the friction drag on the forward
	// pass and preload minus it on the reverse pass, so the half-difference
	// of a mirrored pair recovers the friction component and the half-sum
	// recovers the preload
	frictionForce := *friction * *normalForce
	if frictionForce >= *bias {
		log.Fatalf("friction force %.2f lb exceeds preload %.2f lb: reverse readings would go negative", frictionForce, *bias)
	}
	for run := 0; run < *runs; run++ {
		fmt.Fprintf(w, "RUN,BEGIN,%.2f\n", *normalForce)
		for i := 0; i < *samples; i++ {
			fmt.Fprintf(w, "P,F,%.4f\n", *bias+frictionForce+rng.NormFloat64()**noise)
		}
		for i := 0; i < *samples; i++ {
			fmt.Fprintf(w, "P,R,%.4f\n", *bias-frictionForce+rng.NormFloat64()**noise)
		}
		fmt.Fprintln(w, "RUN,END")
	}

	if err := w.Flush(); err != nil {
		log.Fatalf("failed to write fixtures: %v", err)
	}
	log.Printf("wrote %d runs (%d samples/pass) to %s", *runs, *samples, *output)
}
