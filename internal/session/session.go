package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/micnote/internal/audio"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

// State represents the current state of the session
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StatePlaying   State = "PLAYING"
)

const (
	DefaultBufferDuration = 500 * time.Millisecond
	DefaultTickInterval   = 33 * time.Millisecond
)

// Uploader stores a finished stream and returns the metadata written for it
type Uploader interface {
	Upload(ctx context.Context, stream *wavstream.Stream) (*UploadRecord, error)
}

// Affordances lists which operations are currently enabled
type Affordances struct {
	Record bool `json:"record"`
	Play   bool `json:"play"`
	Stop   bool `json:"stop"`
	Upload bool `json:"upload"`
}

// Snapshot is a consistent view of the session passed to observers
type Snapshot struct {
	State       State       `json:"state"`
	Uploading   bool        `json:"uploading"`
	StreamBytes int         `json:"stream_bytes"`
	Duration    string      `json:"duration"`
	Affordances Affordances `json:"affordances"`
}

// Options configures a Session
type Options struct {
	Microphone     audio.Microphone
	NewPlayer      audio.PlayerFactory
	Uploader       Uploader
	BufferDuration time.Duration
	TickInterval   time.Duration

	// Heartbeat runs on every tick before the playback check. Errors are
	// logged and otherwise ignored.
	Heartbeat func() error
	// Observer receives a snapshot after every transition
	Observer func(Snapshot)
	// OnPlaybackError receives failures from the playback goroutine
	OnPlaybackError func(error)
}

// Session owns a single record / play / upload cycle
type Session struct {
	mic       audio.Microphone
	newPlayer audio.PlayerFactory
	uploader  Uploader
	capture   *Capture

	bufferDuration time.Duration
	tickInterval   time.Duration
	heartbeat      func() error
	observer       func(Snapshot)
	onPlaybackErr  func(error)

	mu         sync.Mutex
	state      State
	uploading  bool
	stream     *wavstream.Stream
	player     audio.Player
	generation uint64
	playErr    error
}

func New(opts Options) (*Session, error) {
	if opts.Microphone == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if opts.NewPlayer == nil {
		return nil, fmt.Errorf("player factory is required")
	}

	s := &Session{
		mic:            opts.Microphone,
		newPlayer:      opts.NewPlayer,
		uploader:       opts.Uploader,
		capture:        NewCapture(opts.Microphone),
		bufferDuration: opts.BufferDuration,
		tickInterval:   opts.TickInterval,
		heartbeat:      opts.Heartbeat,
		observer:       opts.Observer,
		onPlaybackErr:  opts.OnPlaybackError,
		state:          StateIdle,
	}
	if s.bufferDuration <= 0 {
		s.bufferDuration = DefaultBufferDuration
	}
	if s.tickInterval <= 0 {
		s.tickInterval = DefaultTickInterval
	}
	return s, nil
}

// ComputeAffordances derives the enabled operations from the session state
func ComputeAffordances(state State, uploading, hasData bool) Affordances {
	idle := state == StateIdle
	return Affordances{
		Record: idle,
		Play:   idle && hasData,
		Stop:   state == StateRecording || state == StatePlaying,
		Upload: idle && hasData && !uploading,
	}
}

// Record starts a new recording, discarding the previous stream
func (s *Session) Record() error {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return &InvalidStateError{Op: "record", State: s.state}
	}

	if err := s.capture.Start(s.mic.SampleRate(), s.bufferDuration); err != nil {
		s.mu.Unlock()
		return err
	}
	s.stream = nil
	s.state = StateRecording
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("Recording started", "sample_rate", s.mic.SampleRate())
	s.notify(snap)
	return nil
}

// Stop ends the current recording or playback
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
		stream, err := s.capture.Stop()
		if err != nil {
			s.state = StateIdle
			snap := s.snapshotLocked()
			s.mu.Unlock()
			s.notify(snap)
			return err
		}
		s.stream = stream
		s.state = StateIdle
		snap := s.snapshotLocked()
		s.mu.Unlock()

		slog.Info("Recording stopped", "bytes", stream.Len(), "duration", stream.Duration())
		s.notify(snap)
		return nil

	case StatePlaying:
		player := s.player
		s.player = nil
		s.generation++
		s.state = StateIdle
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if player != nil {
			if err := player.Stop(); err != nil {
				slog.Warn("Failed to stop player", "error", err)
			}
		}
		slog.Info("Playback stopped")
		s.notify(snap)
		return nil

	default:
		defer s.mu.Unlock()
		return &InvalidStateError{Op: "stop", State: s.state}
	}
}

// Play starts playback of the last recording. The player is built and
// started on its own goroutine.
func (s *Session) Play() error {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return &InvalidStateError{Op: "play", State: s.state}
	}
	if s.stream.Empty() {
		s.mu.Unlock()
		return ErrEmptyStream
	}

	s.state = StatePlaying
	s.generation++
	s.playErr = nil
	gen := s.generation
	stream := s.stream
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("Playback started", "duration", stream.Duration())
	s.notify(snap)

	go s.launchPlayback(gen, stream)
	return nil
}

func (s *Session) launchPlayback(gen uint64, stream *wavstream.Stream) {
	player, err := s.newPlayer(stream.PCM(), stream.SampleRate(), wavstream.Channels)
	if err != nil {
		s.playbackFailed(gen, fmt.Errorf("failed to create player: %w", err))
		return
	}

	if err := player.Play(); err != nil {
		_ = player.Stop()
		s.playbackFailed(gen, fmt.Errorf("failed to start playback: %w", err))
		return
	}

	s.mu.Lock()
	if s.state != StatePlaying || s.generation != gen {
		// Stopped while the player was starting
		s.mu.Unlock()
		_ = player.Stop()
		return
	}
	s.player = player
	s.mu.Unlock()
}

func (s *Session) playbackFailed(gen uint64, err error) {
	slog.Error("Playback failed", "error", err)

	s.mu.Lock()
	if s.state != StatePlaying || s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.generation++
	s.playErr = err
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.onPlaybackErr != nil {
		s.onPlaybackErr(err)
	}
	s.notify(snap)
}

// Upload sends the last recording through the uploader on its own
// goroutine. Exactly one of onSuccess and onFailure is called when it
// finishes; failures are always *CollaboratorFailure.
func (s *Session) Upload(ctx context.Context, onSuccess func(*UploadRecord), onFailure func(error)) error {
	s.mu.Lock()
	if s.uploader == nil {
		s.mu.Unlock()
		return fmt.Errorf("no uploader configured")
	}
	if s.state != StateIdle || s.uploading {
		defer s.mu.Unlock()
		op := "upload"
		if s.uploading {
			op = "upload while another upload is running"
		}
		return &InvalidStateError{Op: op, State: s.state}
	}
	if s.stream.Empty() {
		s.mu.Unlock()
		return ErrEmptyStream
	}

	s.uploading = true
	stream := s.stream
	snap := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("Upload started", "bytes", stream.Len())
	s.notify(snap)

	go func() {
		record, err := s.uploader.Upload(ctx, stream)

		s.mu.Lock()
		s.uploading = false
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.notify(snap)

		if err != nil {
			var cf *CollaboratorFailure
			if !errors.As(err, &cf) {
				err = &CollaboratorFailure{Step: StepUpload, Err: err}
			}
			slog.Error("Upload failed", "error", err)
			if onFailure != nil {
				onFailure(err)
			}
			return
		}

		slog.Info("Upload completed", "uri", record.URI)
		if onSuccess != nil {
			onSuccess(record)
		}
	}()
	return nil
}

// Stream returns the last finished recording, or nil
// PlaybackError returns why the last playback failed to start, or nil. It is
// set in the same step that returns the session to idle.
func (s *Session) PlaybackError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playErr
}

func (s *Session) Stream() *wavstream.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// LoadStream replaces the current recording, e.g. with a decoded file
func (s *Session) LoadStream(stream *wavstream.Stream) error {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return &InvalidStateError{Op: "load stream", State: s.state}
	}
	s.stream = stream
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       s.state,
		Uploading:   s.uploading,
		Affordances: ComputeAffordances(s.state, s.uploading, !s.stream.Empty()),
	}
	switch {
	case s.state == StateRecording:
		snap.StreamBytes = s.capture.Len()
	case s.stream != nil:
		snap.StreamBytes = s.stream.Len()
		snap.Duration = s.stream.Duration().String()
	}
	return snap
}

func (s *Session) notify(snap Snapshot) {
	if s.observer != nil {
		s.observer(snap)
	}
}

// Close stops any active recording or playback
func (s *Session) Close() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateIdle {
		return nil
	}
	if err := s.Stop(); err != nil && !IsInvalidState(err) {
		return err
	}
	return nil
}
