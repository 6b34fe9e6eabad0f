package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/audiolibrelab/micnote/internal/audio"
	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/notify"
	"github.com/audiolibrelab/micnote/internal/play"
	"github.com/audiolibrelab/micnote/internal/session"
	"github.com/audiolibrelab/micnote/internal/storage"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// Service represents the core micnote service interface
type Service interface {
	// Session operations
	StartRecording() error
	Stop() error
	Play() error
	PlayAndWait(ctx context.Context) error
	Upload(ctx context.Context) error
	Status() Status

	// Blocking helpers for the command line
	WaitIdle(ctx context.Context) error
	UploadAndWait(ctx context.Context) (*session.UploadRecord, error)

	// Stream operations
	Stream() *wavstream.Stream
	LoadFile(path string) error
	SaveRecording(path string) error

	// Pipeline operations
	RunPipeline(ctx context.Context, steps string, waitRecording func(context.Context) error) error

	// Configuration operations
	LoadProfile(ctx context.Context, profile string) error
	GetConfig() *config.Config

	// Information operations
	GetLastError() string
	RecentUploads(ctx context.Context, limit int) ([]session.UploadRecord, error)
	Registry() *prometheus.Registry

	// Run drives the session tick loop until ctx is done
	Run(ctx context.Context) error
	Close() error
}

// Status is the session snapshot plus service-level bookkeeping
type Status struct {
	session.Snapshot
	Backend    string                `json:"backend"`
	LastError  string                `json:"last_error,omitempty"`
	LastUpload *session.UploadRecord `json:"last_upload,omitempty"`
}

// Deps overrides the collaborators built from configuration
type Deps struct {
	Microphone audio.Microphone
	NewPlayer  audio.PlayerFactory
	Uploader   session.Uploader
}

// MicnoteService is the main service implementation
type MicnoteService struct {
	cfg        *config.Config
	configFile string
	deps       Deps

	registry *prometheus.Registry
	metrics  *storage.Metrics
	gauges   *sessionGauges

	mu       sync.RWMutex
	session  *session.Session
	replaced chan struct{} // closed when session is swapped out
	blobs    storage.BlobStore
	meta     storage.MetadataStore
	notifier notify.Notifier
	backend  string

	lastError  string
	lastUpload *session.UploadRecord
	errMu      sync.RWMutex
}

type uploadResult struct {
	record *session.UploadRecord
	err    error
}

// New creates a service from configuration
func New(ctx context.Context, cfg *config.Config, configFile string) (*MicnoteService, error) {
	return NewWithDeps(ctx, cfg, configFile, Deps{})
}

// NewWithDeps creates a service, using any collaborator set in deps instead
// of the configured one
func NewWithDeps(ctx context.Context, cfg *config.Config, configFile string, deps Deps) (*MicnoteService, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := storage.NewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register upload metrics: %w", err)
	}
	gauges, err := newSessionGauges(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register session metrics: %w", err)
	}

	s := &MicnoteService{
		configFile: configFile,
		deps:       deps,
		registry:   registry,
		metrics:    metrics,
		gauges:     gauges,
	}
	if err := s.build(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// build wires the session and its collaborators for cfg
func (s *MicnoteService) build(ctx context.Context, cfg *config.Config) error {
	mic := s.deps.Microphone
	backend := "custom"
	if mic == nil {
		mic = audio.NewMicrophone(cfg.Audio)
		backend = string(audio.ResolveBackend(cfg.Audio))
	}
	newPlayer := s.deps.NewPlayer
	if newPlayer == nil {
		newPlayer = play.NewFactory(cfg.Audio)
	}

	var (
		blobs    storage.BlobStore
		meta     storage.MetadataStore
		notifier notify.Notifier
	)
	uploader := s.deps.Uploader
	if uploader == nil {
		var err error
		blobs, err = storage.NewBlobStore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create blob store: %w", err)
		}
		meta, err = storage.NewMetadataStore(cfg.Metadata)
		if err != nil {
			_ = blobs.Close()
			return fmt.Errorf("failed to create metadata store: %w", err)
		}
		mqttNotifier, err := notify.NewMQTT(cfg.Notify.MQTT)
		if err != nil {
			// Notifications are optional; uploads still work without them
			slog.Warn("MQTT notifications disabled", "error", err)
		} else if mqttNotifier != nil {
			notifier = mqttNotifier
		}

		uploader = storage.NewPipeline(storage.PipelineConfig{
			Container:     cfg.Storage.Container,
			Table:         cfg.Metadata.Table,
			ApplicationID: cfg.ApplicationID,
			DeviceID:      cfg.DeviceID,
		}, blobs, meta, notifier, s.metrics)
	}

	sess, err := session.New(session.Options{
		Microphone:      mic,
		NewPlayer:       newPlayer,
		Uploader:        uploader,
		BufferDuration:  time.Duration(cfg.Audio.BufferDurationMs) * time.Millisecond,
		TickInterval:    time.Duration(cfg.Audio.TickIntervalMs) * time.Millisecond,
		Heartbeat:       s.heartbeat,
		OnPlaybackError: func(err error) { s.setLastError(fmt.Sprintf("Playback failed: %v", err)) },
		Observer: func(snap session.Snapshot) {
			slog.Debug("Session transition", "state", snap.State, "uploading", snap.Uploading)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	s.mu.Lock()
	old := s.replaced
	s.replaced = make(chan struct{})
	s.cfg = cfg
	s.session = sess
	s.blobs = blobs
	s.meta = meta
	s.notifier = notifier
	s.backend = backend
	s.mu.Unlock()
	if old != nil {
		close(old)
	}

	slog.Debug("Service configured",
		"audio_backend", backend,
		"storage_backend", cfg.Storage.Backend,
		"metadata_backend", cfg.Metadata.Backend)
	return nil
}

func (s *MicnoteService) current() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// StartRecording begins a new recording (IDLE -> RECORDING)
func (s *MicnoteService) StartRecording() error {
	slog.Debug("Service.StartRecording called")
	s.clearLastError()
	if err := s.current().Record(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// Stop ends the current recording or playback
func (s *MicnoteService) Stop() error {
	if err := s.current().Stop(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// Play starts playback of the current stream (IDLE -> PLAYING)
func (s *MicnoteService) Play() error {
	if err := s.current().Play(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to play: %v", err))
		return err
	}
	return nil
}

// PlayAndWait plays the current stream and returns once playback ends.
// A player that fails to start is reported here. Run must be active.
func (s *MicnoteService) PlayAndWait(ctx context.Context) error {
	if err := s.Play(); err != nil {
		return err
	}
	if err := s.WaitIdle(ctx); err != nil {
		_ = s.Stop()
		return err
	}
	if err := s.current().PlaybackError(); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

// Upload starts an upload of the current stream and returns immediately
func (s *MicnoteService) Upload(ctx context.Context) error {
	_, err := s.startUpload(ctx)
	return err
}

// UploadAndWait uploads the current stream and waits for the result
func (s *MicnoteService) UploadAndWait(ctx context.Context) (*session.UploadRecord, error) {
	done, err := s.startUpload(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-done:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MicnoteService) startUpload(ctx context.Context) (<-chan uploadResult, error) {
	done := make(chan uploadResult, 1)

	err := s.current().Upload(ctx,
		func(record *session.UploadRecord) {
			s.errMu.Lock()
			s.lastUpload = record
			s.errMu.Unlock()
			done <- uploadResult{record: record}
		},
		func(err error) {
			s.setLastError(fmt.Sprintf("Upload failed: %v", err))
			done <- uploadResult{err: err}
		})
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to upload: %v", err))
		return nil, err
	}
	return done, nil
}

// WaitIdle blocks until the session is idle. Run must be active for
// playback to finish.
func (s *MicnoteService) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.GetConfig().Audio.TickIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		snap := s.current().Snapshot()
		if snap.State == session.StateIdle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status returns the session snapshot with the last error and upload
func (s *MicnoteService) Status() Status {
	snap := s.current().Snapshot()

	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return Status{
		Snapshot:   snap,
		Backend:    backend,
		LastError:  s.lastError,
		LastUpload: s.lastUpload,
	}
}

func (s *MicnoteService) Stream() *wavstream.Stream {
	return s.current().Stream()
}

// LoadFile decodes a WAV file into the session
func (s *MicnoteService) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stream, err := wavstream.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := s.current().LoadStream(stream); err != nil {
		return err
	}

	slog.Info("Loaded audio file", "path", path, "duration", stream.Duration())
	return nil
}

// SaveRecording writes the current stream to a WAV file
func (s *MicnoteService) SaveRecording(path string) error {
	stream := s.current().Stream()
	if stream.Empty() {
		return session.ErrEmptyStream
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := wavstream.Encode(f, stream); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	slog.Info("Saved recording", "path", path, "bytes", stream.Len())
	return nil
}

// RunPipeline executes a sequence of operations (r=record, p=play, u=upload).
// waitRecording decides when a recording step ends.
func (s *MicnoteService) RunPipeline(ctx context.Context, steps string, waitRecording func(context.Context) error) error {
	if err := ValidateSteps(steps); err != nil {
		return err
	}

	for _, step := range steps {
		switch step {
		case 'r':
			if err := s.StartRecording(); err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			waitErr := waitRecording(ctx)
			if err := s.Stop(); err != nil {
				return fmt.Errorf("pipeline record stop failed: %w", err)
			}
			if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
				return fmt.Errorf("pipeline record failed: %w", waitErr)
			}
		case 'p':
			if err := s.PlayAndWait(ctx); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
		case 'u':
			record, err := s.UploadAndWait(ctx)
			if err != nil {
				return fmt.Errorf("pipeline upload failed: %w", err)
			}
			slog.Info("Uploaded recording", "uri", record.URI, "row_key", record.RowKey)
		}
	}
	return nil
}

// ValidateSteps checks a pipeline string
func ValidateSteps(steps string) error {
	if steps == "" {
		return fmt.Errorf("pipeline is empty")
	}
	for _, step := range steps {
		if !strings.ContainsRune("rpu", step) {
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play, u=upload)", step)
		}
	}
	return nil
}

// LoadProfile loads a new configuration profile. The session must be idle.
func (s *MicnoteService) LoadProfile(ctx context.Context, profile string) error {
	snap := s.current().Snapshot()
	if snap.State != session.StateIdle || snap.Uploading {
		return &session.InvalidStateError{Op: "switch profile", State: snap.State}
	}

	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	old := s.collaborators()
	if err := s.build(ctx, newCfg); err != nil {
		return err
	}
	old.close()

	slog.Info("Switched configuration profile", "profile", profile)
	return nil
}

// GetConfig returns the current configuration
func (s *MicnoteService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// RecentUploads lists stored upload records, newest first. Only SQL
// metadata stores can be queried.
func (s *MicnoteService) RecentUploads(ctx context.Context, limit int) ([]session.UploadRecord, error) {
	s.mu.RLock()
	meta, cfg := s.meta, s.cfg
	s.mu.RUnlock()

	store, ok := meta.(*storage.GormStore)
	if !ok {
		return nil, fmt.Errorf("metadata backend %q cannot be queried", cfg.Metadata.Backend)
	}
	return store.Recent(ctx, cfg.Metadata.Table, limit)
}

func (s *MicnoteService) Registry() *prometheus.Registry {
	return s.registry
}

// Run drives the tick loop of the current session. When LoadProfile
// replaces the session, the loop moves to the new one and its tick interval.
func (s *MicnoteService) Run(ctx context.Context) error {
	for {
		s.mu.RLock()
		sess, replaced := s.session, s.replaced
		s.mu.RUnlock()

		sessCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-replaced:
				cancel()
			case <-sessCtx.Done():
			}
		}()
		err := sess.Run(sessCtx)
		cancel()

		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// heartbeat publishes the session gauges on every tick
func (s *MicnoteService) heartbeat() error {
	sess := s.current()
	if sess == nil {
		return fmt.Errorf("session not ready")
	}
	s.gauges.observe(sess.Snapshot())
	return nil
}

// Close stops any activity and releases the storage clients
func (s *MicnoteService) Close() error {
	s.collaborators().close()
	return nil
}

type collaborators struct {
	session  *session.Session
	blobs    storage.BlobStore
	meta     storage.MetadataStore
	notifier notify.Notifier
}

func (s *MicnoteService) collaborators() collaborators {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return collaborators{s.session, s.blobs, s.meta, s.notifier}
}

func (c collaborators) close() {
	if c.session != nil {
		if err := c.session.Close(); err != nil {
			slog.Warn("Failed to close session", "error", err)
		}
	}
	if c.blobs != nil {
		if err := c.blobs.Close(); err != nil {
			slog.Warn("Failed to close blob store", "error", err)
		}
	}
	if c.meta != nil {
		if err := c.meta.Close(); err != nil {
			slog.Warn("Failed to close metadata store", "error", err)
		}
	}
	if c.notifier != nil {
		c.notifier.Close()
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *MicnoteService) GetLastError() string {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *MicnoteService) setLastError(err string) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *MicnoteService) clearLastError() {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.lastError = ""
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
