package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/googleinterns/cros-hummingbird/pkg/capture"
	"github.com/googleinterns/cros-hummingbird/pkg/db"
	"github.com/googleinterns/cros-hummingbird/pkg/pipeline"
	"github.com/googleinterns/cros-hummingbird/pkg/report"
	"github.com/googleinterns/cros-hummingbird/pkg/spec"
	"github.com/shirou/gopsutil/v3/disk"
)

// defaultRunLimit caps /runs when no limit is given
const defaultRunLimit = 50

// SysInfo describes the agent host
type SysInfo struct {
	Timestamp time.Time         `json:"timestamp"`
	System    report.SystemInfo `json:"system"`
	Storage   *StorageInfo      `json:"storage,omitempty"`
	Uploads   bool              `json:"uploads"`
}

// StorageInfo is the usage of the volume holding the run database
type StorageInfo struct {
	Path        string  `json:"path"`
	Fstype      string  `json:"fstype"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// healthHandler returns server health status
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK\n")
}

// sysinfoHandler returns host information as JSON
func (s *Server) sysinfoHandler(w http.ResponseWriter, _ *http.Request) {
	info := SysInfo{
		Timestamp: time.Now(),
		System:    report.GetSystemInfo(),
		Uploads:   s.config.UploadDir != "",
	}

	dir := filepath.Dir(s.database.Path())
	if usage, err := disk.Usage(dir); err == nil {
		info.Storage = &StorageInfo{
			Path:        dir,
			Fstype:      usage.Fstype,
			Total:       usage.Total,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		}
	}

	writeJSON(w, http.StatusOK, info)
}

// formatsHandler lists the capture formats the agent accepts
func formatsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, capture.Info())
}

// runsHandler lists runs, newest first. Query parameters: capture, grade,
// success, since (a duration), limit and offset
func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRunFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runs, err := s.database.ListRuns(filter)
	if err != nil {
		s.logger.Printf("Failed to list runs: %v", err)
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func parseRunFilter(r *http.Request) (db.RunFilter, error) {
	q := r.URL.Query()
	filter := db.RunFilter{
		Capture: q.Get("capture"),
		Grade:   q.Get("grade"),
		Limit:   defaultRunLimit,
	}

	if v := q.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid success value %q", v)
		}
		filter.Success = &success
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return filter, fmt.Errorf("invalid since value %q", v)
		}
		start := time.Now().Add(-d)
		filter.StartTime = &start
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, fmt.Errorf("invalid %s value %q", name, v)
			}
			*dst = n
		}
	}
	return filter, nil
}

// runHandler returns one run with its results and runts
func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	export, err := s.database.Load(id)
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

// reportHandler renders the HTML report of a run
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	html, err := s.reports.GenerateHTML(id, nil)
	if err != nil {
		s.runError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, html)
}

// csvHandler exports the results of a run as CSV
func (s *Server) csvHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	if _, err := s.database.GetRun(id); err != nil {
		s.runError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=run-%d.csv", id))
	if err := s.database.ExportCSV(w, id); err != nil {
		s.logger.Printf("Failed to export run %d: %v", id, err)
	}
}

// analyzeHandler stores the posted capture in the upload directory, analyzes
// it and records the run. Query parameters: format, grade, voltage and name
// A capture that cannot be analyzed is still recorded and answered with 422
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if s.config.UploadDir == "" {
		http.Error(w, "Uploads are disabled", http.StatusForbidden)
		return
	}

	req, err := s.parseAnalyzeRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body := r.Body
	if s.config.MaxUpload > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxUpload)
	}
	if err := saveUpload(req.Capture, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("Capture exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Printf("Failed to store upload: %v", err)
		http.Error(w, "Failed to store capture", http.StatusInternalServerError)
		return
	}

	out, analyzeErr := pipeline.Run(r.Context(), s.database, req, s.logger)
	if out == nil || out.Run == nil {
		s.logger.Printf("Failed to record run: %v", analyzeErr)
		http.Error(w, "Failed to record run", http.StatusInternalServerError)
		return
	}

	export, err := s.database.Load(out.Run.ID)
	if err != nil {
		s.runError(w, err)
		return
	}

	status := http.StatusCreated
	if analyzeErr != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, export)
}

func (s *Server) parseAnalyzeRequest(r *http.Request) (pipeline.Request, error) {
	q := r.URL.Query()

	format := q.Get("format")
	if format == "" {
		format = "csv"
	}

	grade, err := spec.ParseGrade(q.Get("grade"))
	if err != nil {
		return pipeline.Request{}, err
	}

	var voltage float64
	if v := q.Get("voltage"); v != "" {
		if voltage, err = strconv.ParseFloat(v, 64); err != nil {
			return pipeline.Request{}, fmt.Errorf("invalid voltage %q", v)
		}
	}

	name := filepath.Base(q.Get("name"))
	if name == "." || name == string(filepath.Separator) || strings.HasPrefix(name, "..") {
		name = "capture." + format
	}

	req := pipeline.Request{
		Capture: filepath.Join(s.config.UploadDir, fmt.Sprintf("%d-%s", time.Now().UnixNano(), name)),
		Format:  format,
		Voltage: voltage,
		Grade:   grade,
	}
	return req, req.Validate()
}

func saveUpload(path string, body io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) // #nosec G304 -- name is reduced to a base name
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) runError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	s.logger.Printf("Failed to load run: %v", err)
	http.Error(w, "Failed to load run", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
