package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/service"
	"github.com/audiolibrelab/micnote/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the recording session over HTTP
type Server struct {
	service    service.Service
	configFile string
	port       string

	// baseCtx outlives individual requests so uploads are not canceled
	// when the client disconnects
	baseCtx context.Context
}

// StatusResponse is returned by every session endpoint
type StatusResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Status  service.Status `json:"status"`
}

// ProfilesResponse lists the profiles defined in the config file
type ProfilesResponse struct {
	Active   string   `json:"active"`
	Profiles []string `json:"profiles"`
}

// New creates a new web server instance
func New(svc service.Service, configFile, port string) *Server {
	return &Server{
		service:    svc,
		configFile: configFile,
		port:       port,
		baseCtx:    context.Background(),
	}
}

// Handler returns the routes served by Start
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/record", s.handleRecord)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/play", s.handlePlay)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/stream.wav", s.handleStream)
	mux.HandleFunc("/api/uploads", s.handleUploads)
	mux.HandleFunc("/api/profiles", s.handleProfiles)
	mux.HandleFunc("/api/profiles/select", s.handleSelectProfile)
	mux.Handle("/metrics", promhttp.HandlerFor(s.service.Registry(), promhttp.HandlerOpts{}))
	return mux
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown failed", "error", err)
		}
	}()

	slog.Info("Starting micnote web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(indexHTML))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	s.sendStatus(w, http.StatusOK, "")
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.StartRecording(); err != nil {
		s.sendServiceError(w, err, "operation", "record")
		return
	}
	s.sendStatus(w, http.StatusOK, "Recording started")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Stop(); err != nil {
		s.sendServiceError(w, err, "operation", "stop")
		return
	}
	s.sendStatus(w, http.StatusOK, "Stopped")
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Play(); err != nil {
		s.sendServiceError(w, err, "operation", "play")
		return
	}
	s.sendStatus(w, http.StatusOK, "Playback started")
}

// handleUpload starts an upload and answers before it completes. Progress
// is visible through /api/status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Upload(s.baseCtx); err != nil {
		s.sendServiceError(w, err, "operation", "upload")
		return
	}
	s.sendStatus(w, http.StatusAccepted, "Upload started")
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	stream := s.service.Stream()
	if stream == nil || stream.Empty() {
		s.sendErrorResponse(w, http.StatusNotFound, "No recording available")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "micnote.wav", time.Time{}, stream.Reader())
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.service.RecentUploads(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, err.Error(), "operation", "list_uploads")
		return
	}
	if records == nil {
		records = []session.UploadRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"uploads": records,
	})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	resp := ProfilesResponse{Profiles: []string{}}
	if s.configFile != "" {
		root, err := config.ValidateConfigurationFormat(s.configFile)
		if err != nil {
			slog.Debug("Failed to read config file for profiles", "error", err)
		} else {
			resp.Active = root.ActiveProfile
			for name := range root.Profiles {
				resp.Profiles = append(resp.Profiles, name)
			}
			sort.Strings(resp.Profiles)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleSelectProfile switches the running service to another profile and
// records it as the active one in the config file
func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	profile := r.FormValue("profile")
	if profile == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Profile name is required")
		return
	}

	if err := s.service.LoadProfile(s.baseCtx, profile); err != nil {
		s.sendServiceError(w, err, "operation", "select_profile", "profile", profile)
		return
	}
	if err := config.UpdateActiveProfile(s.configFile, profile); err != nil {
		slog.Warn("Failed to persist active profile", "profile", profile, "error", err)
	}
	s.sendStatus(w, http.StatusOK, fmt.Sprintf("Profile '%s' loaded", profile))
}

func (s *Server) sendStatus(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(StatusResponse{
		Success: true,
		Message: message,
		Status:  s.service.Status(),
	})
}

// sendServiceError maps session errors onto HTTP status codes
func (s *Server) sendServiceError(w http.ResponseWriter, err error, logContext ...interface{}) {
	statusCode := http.StatusInternalServerError
	switch {
	case session.IsInvalidState(err):
		statusCode = http.StatusConflict
	case errors.Is(err, session.ErrEmptyStream):
		statusCode = http.StatusBadRequest
	}
	s.sendErrorResponse(w, statusCode, err.Error(), logContext...)
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	if statusCode >= http.StatusInternalServerError {
		slog.Error("Sending error response to client", logFields...)
	} else {
		slog.Debug("Sending error response to client", logFields...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Allow", method)
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func getLocalIP() string {
	// Dialing UDP sends nothing but picks the outbound interface
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
