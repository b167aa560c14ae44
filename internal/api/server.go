package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/tribolab-data/friction.report/internal/cof"
	"github.com/tribolab-data/friction.report/internal/config"
	"github.com/tribolab-data/friction.report/internal/db"
	"github.com/tribolab-data/friction.report/internal/serialmux"
	"github.com/tribolab-data/friction.report/internal/units"
	"github.com/tribolab-data/friction.report/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m     serialmux.SerialMuxInterface
	db    *db.DB
	cfg   *config.TuningConfig
	units string
}

func NewServer(m serialmux.SerialMuxInterface, db *db.DB, cfg *config.TuningConfig, units string) *Server {
	return &Server{
		m:     m,
		db:    db,
		cfg:   cfg,
		units: units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", s.listRuns)
	mux.HandleFunc("/runs/latest", s.latestRun)
	mux.HandleFunc("/paired-csv", s.pairedCSV)
	mux.HandleFunc("/calculate", s.calculate)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requestUnits returns the force units to report in, either from the query
// string or the server default.
func (s *Server) requestUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q: expected one of %s", u, units.GetValidUnitsString())
	}
	return u, nil
}

// convertRunForces converts the force-valued fields of a run from pounds to
// the requested units. Cof is dimensionless and stays untouched.
func convertRunForces(run db.TestRun, target string) db.TestRun {
	run.NormalForceLb = units.ConvertForce(run.NormalForceLb, target)
	run.AvgForceLb = units.ConvertForce(run.AvgForceLb, target)
	run.AvgBiasLb = units.ConvertForce(run.AvgBiasLb, target)
	return run
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	target, err := s.requestUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.db.TestRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}

	for i := range runs {
		runs[i] = convertRunForces(runs[i], target)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
	}
}

func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	target, err := s.requestUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.db.LatestTestRun()
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSONError(w, http.StatusNotFound, "No runs recorded")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(convertRunForces(run, target)); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write run")
	}
}

// pairedCSV re-derives the paired-data diagnostic block for a stored run
// from its raw samples, using the trim fraction the run was calculated with.
func (s *Server) pairedCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'run_id' parameter")
		return
	}

	run, err := s.db.TestRun(runID)
	if errors.Is(err, sql.ErrNoRows) {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown run %q", runID))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve run: %v", err))
		return
	}

	fwd, rev, err := s.db.RunSamples(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := cof.WritePairedCSV(w, fwd, rev, run.TrimFraction); err != nil {
		log.Printf("failed to write paired CSV for run %s: %v", runID, err)
	}
}

// calculateRequest is the body of POST /calculate: a one-shot calculation
// over caller-supplied passes, without touching the database.
type calculateRequest struct {
	FwdSamples      []float64 `json:"fwd_samples"`
	RevSamples      []float64 `json:"rev_samples"`
	NormalForceLb   *float64  `json:"normal_force_lb,omitempty"`
	TrimFraction    *float64  `json:"trim_fraction,omitempty"`
	AveragingMethod string    `json:"averaging_method,omitempty"`
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	method := req.AveragingMethod
	if method == "" {
		method = s.cfg.GetAveragingMethod()
	}
	avg, err := cof.AveragerByName(method)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	trim := s.cfg.GetTrimFraction()
	if req.TrimFraction != nil {
		trim = *req.TrimFraction
	}
	if trim < 0 || trim >= 0.5 {
		s.writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("trim_fraction must be in [0, 0.5), got %v", trim))
		return
	}

	normalForce := s.cfg.GetNormalForceLb()
	if req.NormalForceLb != nil {
		normalForce = *req.NormalForceLb
	}

	// No valid pairs is a reported measurement condition, not an HTTP
	// error: the zero result with paired_count 0 is the failure encoding.
	result, err := cof.Calculate(req.FwdSamples, req.RevSamples, normalForce, trim, avg)
	if err != nil && !errors.Is(err, cof.ErrNoValidPairs) {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write result")
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	command := r.FormValue("command")
	if command == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing command")
		return
	}
	if !commandAllowed(command) {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid command")
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to send command")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "sent", "command": command})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	configOut := map[string]interface{}{
		"units":                s.units,
		"trim_fraction":        s.cfg.GetTrimFraction(),
		"normal_force_lb":      s.cfg.GetNormalForceLb(),
		"averaging_method":     s.cfg.GetAveragingMethod(),
		"min_samples_per_pass": s.cfg.GetMinSamplesPerPass(),
		"run_timeout":          s.cfg.GetRunTimeout().String(),
		"version":              version.Version,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(configOut); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
	}
}
