package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/service"
	"github.com/audiolibrelab/micnote/internal/session"
)

func newTestServer(t *testing.T, configFile string) (*Server, *service.MicnoteService) {
	t.Helper()

	cfg := config.Default()
	if configFile != "" {
		var err error
		cfg, err = config.LoadWithProfile(configFile, "")
		require.NoError(t, err)
	}
	cfg.DeviceID = "test-device"
	cfg.Audio.Backend = "silent"
	cfg.Audio.BufferDurationMs = 10
	cfg.Audio.TickIntervalMs = 2
	cfg.Storage.Local.Directory = t.TempDir()
	cfg.Metadata.Backend = "sqlite"
	cfg.Metadata.DSN = filepath.Join(t.TempDir(), "notes.db")

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := service.New(ctx, cfg, configFile)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = svc.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = svc.Close()
	})

	return New(svc, configFile, "0"), svc
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) StatusResponse {
	t.Helper()
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	msg, _ := resp["error"].(string)
	return msg
}

func TestStatusReportsAffordances(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeStatus(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, session.StateIdle, resp.Status.State)
	assert.Equal(t, "silent", resp.Status.Backend)
	assert.Equal(t, session.Affordances{Record: true}, resp.Status.Affordances)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/record"},
		{http.MethodGet, "/api/stop"},
		{http.MethodGet, "/api/play"},
		{http.MethodGet, "/api/upload"},
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/stream.wav"},
		{http.MethodGet, "/api/profiles/select"},
	} {
		rec := do(t, h, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Method not allowed", decodeError(t, rec))
	}
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec), "IDLE")

	rec = do(t, h, http.MethodPost, "/api/play", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/upload", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/stream.wav", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/record", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/record", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordStreamAndUpload(t *testing.T) {
	srv, svc := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/record", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeStatus(t, rec)
	assert.Equal(t, session.StateRecording, resp.Status.State)
	assert.Equal(t, session.Affordances{Stop: true}, resp.Status.Affordances)

	time.Sleep(60 * time.Millisecond)

	rec = do(t, h, http.MethodPost, "/api/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeStatus(t, rec)
	assert.Equal(t, session.StateIdle, resp.Status.State)
	assert.True(t, resp.Status.Affordances.Play)
	assert.True(t, resp.Status.Affordances.Upload)

	rec = do(t, h, http.MethodGet, "/api/stream.wav", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, svc.Stream().Bytes(), rec.Body.Bytes())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "RIFF"))

	rec = do(t, h, http.MethodPost, "/api/upload", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return svc.Status().LastUpload != nil
	}, 2*time.Second, 5*time.Millisecond)

	rec = do(t, h, http.MethodGet, "/api/uploads?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Success bool                   `json:"success"`
		Uploads []session.UploadRecord `json:"uploads"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Uploads, 1)
	assert.Equal(t, svc.Status().LastUpload.URI, list.Uploads[0].URI)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `micnote_uploads_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), "micnote_session_state")
}

func TestUploadsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := do(t, srv.Handler(), http.MethodGet, "/api/uploads?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndex(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/api/status")

	rec = do(t, h, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfiles(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "micnote.yaml")
	content := `active_profile: first
defaults:
  audio:
    backend: silent
profiles:
  first:
    storage:
      container: first
  second:
    storage:
      container: second
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	srv, svc := newTestServer(t, configFile)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profiles ProfilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profiles))
	assert.Equal(t, "first", profiles.Active)
	assert.Equal(t, []string{"first", "second"}, profiles.Profiles)

	rec = do(t, h, http.MethodPost, "/api/profiles/select", strings.NewReader(url.Values{"profile": {"missing"}}.Encode()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/profiles/select", strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/profiles/select", strings.NewReader(url.Values{"profile": {"second"}}.Encode()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "second", svc.GetConfig().Storage.Container)

	root, err := config.ValidateConfigurationFormat(configFile)
	require.NoError(t, err)
	assert.Equal(t, "second", root.ActiveProfile)
}

func TestProfilesWithoutConfigFile(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := do(t, srv.Handler(), http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var profiles ProfilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profiles))
	assert.Empty(t, profiles.Profiles)
}

func TestStartShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, "")
	srv.port = "0"

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
