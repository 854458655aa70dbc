package agent

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/googleinterns/cros-hummingbird/internal/synth"
	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestServer(t *testing.T, config Config) (*Server, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	server, err := NewServer(config, database, quiet())
	require.NoError(t, err)
	return server, database
}

func uploadConfig(t *testing.T) Config {
	config := DefaultConfig()
	config.UploadDir = filepath.Join(t.TempDir(), "uploads")
	return config
}

// clientFor starts handler on a loopback listener and returns a client for it
func clientFor(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client, err := NewClient(ClientConfig{Host: u.Hostname(), Port: port})
	require.NoError(t, err)
	return client
}

func writeCapture(t *testing.T, name string, scl, sda []float64, period float64) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, capture.WriteCSV(&buf, period, [2]string{"SCL", "SDA"}, scl, sda))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	tests := []struct {
		method     string
		wantStatus int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "OK\n", rr.Body.String())
			}
		})
	}
}

func TestAnalyzeAndQuery(t *testing.T) {
	server, _ := newTestServer(t, uploadConfig(t))
	client := clientFor(t, server.Handler())
	ctx := context.Background()

	require.NoError(t, client.CheckHealth(ctx))

	w := synth.Generate(synth.DefaultConfig(), []synth.Transfer{{Address: 0x50, Data: []byte{0x42}}})
	path := writeCapture(t, "bench.csv", w.SCL, w.SDA, w.SamplingPeriod)

	export, err := client.Analyze(ctx, path, AnalyzeOptions{})
	require.NoError(t, err)
	require.NotNil(t, export.Run)
	assert.Equal(t, string(spec.Standard), export.Run.Grade)
	assert.True(t, export.Run.Success)
	assert.True(t, strings.HasSuffix(export.Run.Capture, "-bench.csv"))
	assert.NotEmpty(t, export.Results)
	assert.FileExists(t, export.Run.Capture, "upload is kept for later reports")

	runs, err := client.ListRuns(ctx, db.RunFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, export.Run.ID, runs[0].ID)

	success := false
	runs, err = client.ListRuns(ctx, db.RunFilter{Success: &success})
	require.NoError(t, err)
	assert.Empty(t, runs)

	got, err := client.GetRun(ctx, export.Run.ID)
	require.NoError(t, err)
	assert.Len(t, got.Results, len(export.Results))

	html, err := client.Report(ctx, export.Run.ID)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Hummingbird I2C Report")

	csvData, err := client.Get(ctx, "runs/"+strconv.FormatInt(export.Run.ID, 10)+"/csv")
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "t_low")

	_, err = client.GetRun(ctx, 999)
	assert.ErrorContains(t, err, "404")

	info, err := client.SysInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.Uploads)
	assert.False(t, info.Timestamp.IsZero())
}

func TestAnalyzeFailureIsRecorded(t *testing.T) {
	server, database := newTestServer(t, uploadConfig(t))
	client := clientFor(t, server.Handler())

	flat := make([]float64, 2000)
	path := writeCapture(t, "flat.csv", flat, flat, 1e-8)

	export, err := client.Analyze(context.Background(), path, AnalyzeOptions{Format: "csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "working voltage")
	require.NotNil(t, export)

	run, err := database.GetRun(export.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, db.RunStatusError, run.GetStatus())
}

func TestAnalyzeRejects(t *testing.T) {
	body := "time,SCL,SDA\n0,0,0\n"

	tests := []struct {
		name       string
		uploads    bool
		maxUpload  int64
		query      string
		wantStatus int
	}{
		{"uploads disabled", false, 0, "", http.StatusForbidden},
		{"unknown grade", true, 0, "grade=turbo", http.StatusBadRequest},
		{"unknown format", true, 0, "format=wav", http.StatusBadRequest},
		{"single channel format", true, 0, "format=trace", http.StatusBadRequest},
		{"bad voltage", true, 0, "voltage=high", http.StatusBadRequest},
		{"too large", true, 4, "", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.MaxUpload = tt.maxUpload
			if tt.uploads {
				config.UploadDir = t.TempDir()
			}
			server, _ := newTestServer(t, config)

			req := httptest.NewRequest(http.MethodPost, "/analyze?"+tt.query, strings.NewReader(body))
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestRunsHandlerQuery(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	tests := []struct {
		query      string
		wantStatus int
	}{
		{"", http.StatusOK},
		{"success=true&limit=5&since=1h", http.StatusOK},
		{"success=maybe", http.StatusBadRequest},
		{"limit=-1", http.StatusBadRequest},
		{"since=yesterday", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/runs?"+tt.query, nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "[]\n", rr.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/runs/abc", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFormatsHandler(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/formats", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"csv"`)
}

func TestServeAndShutdown(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- server.Serve(listener) }()

	client, err := NewClient(ClientConfig{Host: "127.0.0.1", Port: listener.Addr().(*net.TCPAddr).Port})
	require.NoError(t, err)
	require.NoError(t, client.CheckHealth(context.Background()))

	require.NoError(t, server.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
