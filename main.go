package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tribolab-data/friction.report/internal/api"
	"github.com/tribolab-data/friction.report/internal/config"
	"github.com/tribolab-data/friction.report/internal/db"
	"github.com/tribolab-data/friction.report/internal/instrument"
	"github.com/tribolab-data/friction.report/internal/serialmux"
	"github.com/tribolab-data/friction.report/internal/timeutil"
	"github.com/tribolab-data/friction.report/internal/units"
	"github.com/tribolab-data/friction.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (replay fixtures instead of opening a serial port)")
	listen     = flag.String("listen", ":8080", "Listen address")
	serialPort = flag.String("port", "/dev/ttyACM0", "Serial device of the tester head")
	dbFile     = flag.String("db", "friction_data.db", "SQLite database file")
	configPath = flag.String("config", config.DefaultConfigPath, "Tuning config JSON file")
	unitArg    = flag.String("units", units.LB, "Default force units for API responses")
	dumpPairs  = flag.String("dump-pairs", "", "Append the paired-data CSV block of every run to this file")
	fixtures   = flag.String("fixtures", "fixtures.txt", "Line fixtures replayed in dev mode")
)

// expiryPollInterval is how often the run collector is checked for a test
// run that began but never sent RUN,END.
const expiryPollInterval = 5 * time.Second

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*unitArg) {
		log.Fatalf("invalid units %q: expected one of %s", *unitArg, units.GetValidUnitsString())
	}

	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load tuning config %s: %v", *configPath, err)
	}

	var m serialmux.SerialMuxInterface
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		m = serialmux.NewMockSerialMux(data, 10*time.Millisecond)
	} else {
		var err error
		m, err = serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open tester port %s: %v", *serialPort, err)
		}
		if err := m.Initialize(); err != nil {
			log.Fatalf("failed to initialize tester head: %v", err)
		}
	}
	defer m.Close()

	d, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer d.Close()

	collector := instrument.NewCollector(d, cfg, timeutil.RealClock{})
	if *dumpPairs != "" {
		f, err := os.OpenFile(*dumpPairs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("failed to open pair dump file: %v", err)
		}
		defer f.Close()
		collector.PairedDump = f
	}

	log.Printf("friction.report %s starting on %s (units=%s)", version.Version, *listen, *unitArg)

	// Wait group for the serial monitor, line collector, and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to tester lines and feed them to the run collector; the
	// ticker sweeps runs whose RUN,END never arrived
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		expiry := time.NewTicker(expiryPollInterval)
		defer expiry.Stop()

		for {
			select {
			case line := <-c:
				if err := collector.HandleLine(line); err != nil {
					log.Printf("error handling line: %v", err)
				}
			case <-expiry.C:
				collector.DiscardExpired()
			case <-ctx.Done():
				log.Printf("collector routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the serial debugging routes (raw command entry, line tail)
		m.AttachDebugRoutes(mux)

		apiMux := api.NewServer(m, d, cfg, *unitArg).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
