package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tribolab-data/friction.report/internal/cof"
	"github.com/tribolab-data/friction.report/internal/config"
	"github.com/tribolab-data/friction.report/internal/db"
)

// fakeMux records commands sent through the API without a real port.
type fakeMux struct {
	commands []string
	sendErr  error
}

func (f *fakeMux) Subscribe() (string, chan string)     { return "fake", make(chan string) }
func (f *fakeMux) Unsubscribe(string)                   {}
func (f *fakeMux) Monitor(context.Context) error        { return nil }
func (f *fakeMux) Close() error                         { return nil }
func (f *fakeMux) Initialize() error                    { return nil }
func (f *fakeMux) AttachDebugRoutes(mux *http.ServeMux) {}

func (f *fakeMux) SendCommand(command string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.commands = append(f.commands, command)
	return nil
}

func newTestServer(t *testing.T) (*Server, *db.DB, *fakeMux) {
	t.Helper()
	d, err := db.NewDB(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	fm := &fakeMux{}
	return NewServer(fm, d, config.EmptyTuningConfig(), "lb"), d, fm
}

func seedRun(t *testing.T, d *db.DB, runID string, completedAt time.Time, cofVal float64) db.TestRun {
	t.Helper()
	run := db.TestRun{
		RunID:           runID,
		StartedAt:       completedAt.Add(-5 * time.Second),
		CompletedAt:     completedAt,
		NormalForceLb:   4.4,
		TrimFraction:    0.25,
		AveragingMethod: cof.MethodPercentileBand,
		Cof:             cofVal,
		AvgForceLb:      cofVal * 4.4,
		AvgBiasLb:       0.5,
		PairedCount:     10,
		FwdSamples:      20,
		RevSamples:      20,
	}
	require.NoError(t, d.RecordTestRun(run))
	return run
}

func TestListRuns(t *testing.T) {
	s, d, _ := newTestServer(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seedRun(t, d, "run-old", base, 0.31)
	seedRun(t, d, "run-new", base.Add(time.Minute), 0.35)

	rr := httptest.NewRecorder()
	s.listRuns(rr, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var runs []db.TestRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	require.Equal(t, "run-new", runs[0].RunID)
	require.Equal(t, "run-old", runs[1].RunID)
}

func TestListRunsLimit(t *testing.T) {
	s, d, _ := newTestServer(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedRun(t, d, fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute), 0.3)
	}

	rr := httptest.NewRecorder()
	s.listRuns(rr, httptest.NewRequest(http.MethodGet, "/runs?limit=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var runs []db.TestRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	require.Equal(t, "run-4", runs[0].RunID)
}

func TestListRunsBadLimit(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, limit := range []string{"0", "-3", "oops"} {
		rr := httptest.NewRecorder()
		s.listRuns(rr, httptest.NewRequest(http.MethodGet, "/runs?limit="+limit, nil))
		require.Equal(t, http.StatusBadRequest, rr.Code, "limit=%s", limit)
	}
}

func TestListRunsUnitConversion(t *testing.T) {
	s, d, _ := newTestServer(t)

	run := seedRun(t, d, "run-n", time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), 0.4)

	rr := httptest.NewRecorder()
	s.listRuns(rr, httptest.NewRequest(http.MethodGet, "/runs?units=n", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var runs []db.TestRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	require.InDelta(t, run.NormalForceLb*4.4482216153, runs[0].NormalForceLb, 1e-9)
	require.InDelta(t, run.AvgForceLb*4.4482216153, runs[0].AvgForceLb, 1e-9)
	// dimensionless, must not be scaled
	require.Equal(t, run.Cof, runs[0].Cof)
}

func TestListRunsInvalidUnits(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.listRuns(rr, httptest.NewRequest(http.MethodGet, "/runs?units=stone", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid units")
}

func TestLatestRun(t *testing.T) {
	s, d, _ := newTestServer(t)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	seedRun(t, d, "run-old", base, 0.31)
	want := seedRun(t, d, "run-new", base.Add(time.Minute), 0.35)

	rr := httptest.NewRecorder()
	s.latestRun(rr, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got db.TestRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, want.RunID, got.RunID)
	require.Equal(t, want.Cof, got.Cof)
}

func TestLatestRunEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.latestRun(rr, httptest.NewRequest(http.MethodGet, "/runs/latest", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPairedCSV(t *testing.T) {
	s, d, _ := newTestServer(t)

	run := seedRun(t, d, "run-csv", time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), 0.4)
	_, err := d.Exec(`UPDATE test_runs SET trim_fraction = 0 WHERE run_id = ?`, run.RunID)
	require.NoError(t, err)
	require.NoError(t, d.RecordSamples(run.RunID, db.DirectionForward, cof.Series{4, 6}))
	require.NoError(t, d.RecordSamples(run.RunID, db.DirectionReverse, cof.Series{2, 2}))

	rr := httptest.NewRecorder()
	s.pairedCSV(rr, httptest.NewRequest(http.MethodGet, "/paired-csv?run_id=run-csv", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	require.Contains(t, body, cof.PairedCSVStart)
	require.Contains(t, body, cof.PairedCSVEnd)
	require.Contains(t, body, "pos_index,fwd_force,rev_force,friction,bias")
	// fwd[0]=4 pairs with rev[1]=2: friction 1, bias 3
	require.Contains(t, body, "0,4.0000,2.0000,1.0000,3.0000")
}

func TestPairedCSVUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.pairedCSV(rr, httptest.NewRequest(http.MethodGet, "/paired-csv?run_id=nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPairedCSVMissingRunID(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.pairedCSV(rr, httptest.NewRequest(http.MethodGet, "/paired-csv", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCalculate(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{
		"fwd_samples": [4, 6, 8],
		"rev_samples": [4, 2, 2],
		"normal_force_lb": 2.0,
		"trim_fraction": 0,
		"averaging_method": "percentile_band"
	}`
	rr := httptest.NewRecorder()
	s.calculate(rr, httptest.NewRequest(http.MethodPost, "/calculate", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var result cof.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 3, result.PairedCount)
	// friction values {1, 2, 2}: fewer than ten pairs, so the band
	// averager reduces to the plain mean 5/3.
	require.InDelta(t, 5.0/3.0, result.AvgForceLb, 1e-9)
	require.InDelta(t, (5.0/3.0)/2.0, result.Cof, 1e-9)
	require.InDelta(t, 13.0/3.0, result.AvgBias, 1e-9)
}

func TestCalculateNoValidPairs(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"fwd_samples": [1], "rev_samples": [], "trim_fraction": 0}`
	rr := httptest.NewRecorder()
	s.calculate(rr, httptest.NewRequest(http.MethodPost, "/calculate", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var result cof.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, cof.Result{}, result)
}

func TestCalculateBadMethod(t *testing.T) {
	s, _, _ := newTestServer(t)

	body := `{"fwd_samples": [1], "rev_samples": [1], "averaging_method": "median"}`
	rr := httptest.NewRecorder()
	s.calculate(rr, httptest.NewRequest(http.MethodPost, "/calculate", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCalculateBadTrimFraction(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, trim := range []string{"0.5", "-0.1"} {
		body := `{"fwd_samples": [1], "rev_samples": [1], "trim_fraction": ` + trim + `}`
		rr := httptest.NewRecorder()
		s.calculate(rr, httptest.NewRequest(http.MethodPost, "/calculate", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rr.Code, "trim=%s", trim)
	}
}

func TestCalculateDefaults(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Omitting normal_force_lb and trim_fraction falls back to the tuning
	// defaults (4.4 lb, 0.25/3).
	body := `{"fwd_samples": [4, 4, 4], "rev_samples": [2, 2, 2]}`
	rr := httptest.NewRecorder()
	s.calculate(rr, httptest.NewRequest(http.MethodPost, "/calculate", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var result cof.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, 3, result.PairedCount)
	require.InDelta(t, 1.0/4.4, result.Cof, 1e-9)
}

func TestSendCommand(t *testing.T) {
	s, _, fm := newTestServer(t)

	form := url.Values{"command": {"Z"}}
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	s.sendCommandHandler(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []string{"Z"}, fm.commands)
}

func TestSendCommandAllowList(t *testing.T) {
	s, _, fm := newTestServer(t)

	cases := []struct {
		command string
		want    int
	}{
		{"Z", http.StatusOK},
		{"C=1767225600", http.StatusOK},
		{"UL", http.StatusOK},
		{"rm -rf", http.StatusBadRequest},
		{"C=", http.StatusBadRequest},
		{"QQ", http.StatusBadRequest},
	}
	for _, tc := range cases {
		form := url.Values{"command": {tc.command}}
		req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rr := httptest.NewRecorder()
		s.sendCommandHandler(rr, req)
		require.Equal(t, tc.want, rr.Code, "command %q", tc.command)
	}
	require.Equal(t, []string{"Z", "C=1767225600", "UL"}, fm.commands)
}

func TestSendCommandMissing(t *testing.T) {
	s, _, fm := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := httptest.NewRecorder()
	s.sendCommandHandler(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, fm.commands)
}

func TestShowConfig(t *testing.T) {
	s, _, _ := newTestServer(t)

	rr := httptest.NewRecorder()
	s.showConfig(rr, httptest.NewRequest(http.MethodGet, "/config", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "lb", got["units"])
	require.Equal(t, cof.MethodPercentileBand, got["averaging_method"])
	require.InDelta(t, 4.4, got["normal_force_lb"].(float64), 1e-9)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t)
	mux := s.ServeMux()

	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/runs"},
		{http.MethodPost, "/runs/latest"},
		{http.MethodGet, "/calculate"},
		{http.MethodGet, "/command"},
		{http.MethodPost, "/config"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusMethodNotAllowed, rr.Code, "%s %s", tc.method, tc.path)
	}
}
