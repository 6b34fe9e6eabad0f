package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/audiolibrelab/micnote/internal/wavstream"
)

const (
	waitFor = time.Second
	pollIn  = 2 * time.Millisecond
)

type harness struct {
	s        *Session
	mic      *fakeMicrophone
	player   *fakePlayer
	factory  *playerFactory
	uploader *fakeUploader

	mu    sync.Mutex
	snaps []Snapshot
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		mic:      newFakeMicrophone(8000),
		player:   &fakePlayer{},
		uploader: &fakeUploader{},
	}
	h.factory = &playerFactory{player: h.player}

	s, err := New(Options{
		Microphone:     h.mic,
		NewPlayer:      h.factory.New,
		Uploader:       h.uploader,
		BufferDuration: 100 * time.Millisecond,
		TickInterval:   time.Millisecond,
		Observer: func(snap Snapshot) {
			h.mu.Lock()
			h.snaps = append(h.snaps, snap)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	h.s = s
	return h
}

// recordChunks records n chunks of 1600 bytes and stops
func (h *harness) recordChunks(t *testing.T, n int) {
	t.Helper()
	require.NoError(t, h.s.Record())
	h.mic.fire(n)
	require.NoError(t, h.s.Stop())
}

func (h *harness) lastSnapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snaps[len(h.snaps)-1]
}

func (h *harness) startPlayback(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.Play())
	require.Eventually(t, func() bool {
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		return h.s.player != nil
	}, waitFor, pollIn)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{NewPlayer: (&playerFactory{}).New})
	assert.Error(t, err)
	_, err = New(Options{Microphone: newFakeMicrophone(8000)})
	assert.Error(t, err)

	s, err := New(Options{Microphone: newFakeMicrophone(8000), NewPlayer: (&playerFactory{}).New})
	require.NoError(t, err)
	assert.Equal(t, DefaultBufferDuration, s.bufferDuration)
	assert.Equal(t, DefaultTickInterval, s.tickInterval)
}

func TestComputeAffordances(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		uploading bool
		hasData   bool
		want      Affordances
	}{
		{"idle empty", StateIdle, false, false, Affordances{Record: true}},
		{"idle with data", StateIdle, false, true, Affordances{Record: true, Play: true, Upload: true}},
		{"idle uploading", StateIdle, true, true, Affordances{Record: true, Play: true}},
		{"recording", StateRecording, false, false, Affordances{Stop: true}},
		{"recording while uploading", StateRecording, true, false, Affordances{Stop: true}},
		{"playing", StatePlaying, false, true, Affordances{Stop: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeAffordances(tt.state, tt.uploading, tt.hasData))
		})
	}
}

func TestRecordAndStop(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.s.Record())
	assert.Equal(t, StateRecording, h.s.Snapshot().State)
	assert.Equal(t, Affordances{Stop: true}, h.lastSnapshot().Affordances)

	h.mic.fire(3)
	assert.Equal(t, wavstream.HeaderSize+3*1600, h.s.Snapshot().StreamBytes)

	require.NoError(t, h.s.Stop())
	snap := h.s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, Affordances{Record: true, Play: true, Upload: true}, snap.Affordances)
	assert.Equal(t, 3*1600, h.s.Stream().DataLen())
	assert.Equal(t, 8000, h.s.Stream().SampleRate())
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t)
	var ise *InvalidStateError

	err := h.s.Stop()
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StateIdle, ise.State)

	require.NoError(t, h.s.Record())

	err = h.s.Record()
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, StateRecording, ise.State)

	require.ErrorAs(t, h.s.Play(), &ise)
	require.ErrorAs(t, h.s.Upload(context.Background(), nil, nil), &ise)
	assert.Equal(t, StateRecording, h.s.Snapshot().State)

	require.NoError(t, h.s.Stop())
	err = h.s.Stop()
	require.ErrorAs(t, err, &ise)
	assert.True(t, IsInvalidState(err))
	assert.Equal(t, 1, h.mic.stops)
}

func TestRecordDiscardsPreviousStream(t *testing.T) {
	h := newHarness(t)

	h.recordChunks(t, 4)
	require.NoError(t, h.s.Record())
	assert.Nil(t, h.s.Stream())
	assert.False(t, h.s.Snapshot().Affordances.Play)

	h.mic.fire(1)
	require.NoError(t, h.s.Stop())
	assert.Equal(t, 1600, h.s.Stream().DataLen())
}

func TestEmptyStream(t *testing.T) {
	h := newHarness(t)

	assert.ErrorIs(t, h.s.Play(), ErrEmptyStream)
	assert.ErrorIs(t, h.s.Upload(context.Background(), nil, nil), ErrEmptyStream)

	// A recording with no buffers holds only the header
	h.recordChunks(t, 0)
	assert.Equal(t, wavstream.HeaderSize, h.s.Stream().Len())

	assert.ErrorIs(t, h.s.Play(), ErrEmptyStream)
	assert.ErrorIs(t, h.s.Upload(context.Background(), nil, nil), ErrEmptyStream)
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
	assert.Equal(t, int32(0), h.factory.calls.Load())
	assert.Equal(t, int32(0), h.uploader.calls.Load())
}

func TestPlaybackRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.recordChunks(t, 2)

	h.startPlayback(t)
	assert.Equal(t, StatePlaying, h.s.Snapshot().State)
	assert.Equal(t, int32(8000), h.factory.sampleRate.Load())
	assert.Equal(t, int32(3200), h.factory.pcmLen.Load())

	// Still playing: tick changes nothing
	h.s.Tick()
	assert.Equal(t, StatePlaying, h.s.Snapshot().State)

	h.player.playing.Store(false)
	h.s.Tick()
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
	assert.Equal(t, StateIdle, h.lastSnapshot().State)
	assert.Equal(t, int32(1), h.player.stops.Load())

	// Recording survives playback
	assert.Equal(t, 3200, h.s.Stream().DataLen())
}

func TestTickWaitsForPublishedPlayer(t *testing.T) {
	h := newHarness(t)
	h.recordChunks(t, 1)

	// Pretend playback was requested but the player is not yet published
	h.s.mu.Lock()
	h.s.state = StatePlaying
	h.s.mu.Unlock()

	h.s.Tick()
	assert.Equal(t, StatePlaying, h.s.Snapshot().State)
}

func TestStopDuringPlayback(t *testing.T) {
	h := newHarness(t)
	h.recordChunks(t, 1)

	h.startPlayback(t)
	require.NoError(t, h.s.Stop())
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
	assert.Equal(t, int32(1), h.player.stops.Load())
	assert.Equal(t, StateIdle, h.lastSnapshot().State)
}

func TestStopBeforePlayerPublished(t *testing.T) {
	h := newHarness(t)
	h.recordChunks(t, 1)

	require.NoError(t, h.s.Play())
	require.NoError(t, h.s.Stop())
	assert.Equal(t, StateIdle, h.s.Snapshot().State)

	// Whichever side wins, the player ends up stopped and never published
	require.Eventually(t, func() bool { return h.player.stops.Load() > 0 }, waitFor, pollIn)

	h.s.mu.Lock()
	assert.Nil(t, h.s.player)
	h.s.mu.Unlock()
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
}

func TestPlaybackFactoryFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.err = errors.New("no output device")

	var got atomic.Value
	h.s.onPlaybackErr = func(err error) { got.Store(err) }

	h.recordChunks(t, 1)
	require.NoError(t, h.s.Play())

	require.Eventually(t, func() bool { return h.s.Snapshot().State == StateIdle }, waitFor, pollIn)
	require.Eventually(t, func() bool { return got.Load() != nil }, waitFor, pollIn)
	assert.ErrorIs(t, got.Load().(error), h.factory.err)
	assert.ErrorIs(t, h.s.PlaybackError(), h.factory.err, "error is visible once idle")

	// A new playback clears the previous failure
	h.factory.err = nil
	require.NoError(t, h.s.Play())
	assert.NoError(t, h.s.PlaybackError())
	require.NoError(t, h.s.Stop())
}

func TestPlaybackStartFailure(t *testing.T) {
	h := newHarness(t)
	h.player.playErr = errors.New("device lost")

	h.recordChunks(t, 1)
	require.NoError(t, h.s.Play())

	require.Eventually(t, func() bool { return h.s.Snapshot().State == StateIdle }, waitFor, pollIn)
	assert.Equal(t, int32(1), h.player.stops.Load())
	assert.ErrorIs(t, h.s.PlaybackError(), h.player.playErr)
}

func TestUploadSuccess(t *testing.T) {
	h := newHarness(t)
	h.uploader.release = make(chan struct{})
	h.recordChunks(t, 2)

	records := make(chan *UploadRecord, 1)
	failures := make(chan error, 1)
	require.NoError(t, h.s.Upload(context.Background(),
		func(r *UploadRecord) { records <- r },
		func(err error) { failures <- err }))

	snap := h.s.Snapshot()
	assert.True(t, snap.Uploading)
	assert.False(t, snap.Affordances.Upload)
	assert.True(t, snap.Affordances.Play)

	var ise *InvalidStateError
	require.ErrorAs(t, h.s.Upload(context.Background(), nil, nil), &ise)

	close(h.uploader.release)

	select {
	case r := <-records:
		assert.Equal(t, "file:///notes/x.wav", r.URI)
	case err := <-failures:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(waitFor):
		t.Fatal("upload did not complete")
	}

	assert.False(t, h.s.Snapshot().Uploading)
	assert.Equal(t, int32(1), h.uploader.calls.Load())
	assert.Equal(t, int32(wavstream.HeaderSize+3200), h.uploader.bytes.Load())
}

func TestUploadFailureKeepsStep(t *testing.T) {
	h := newHarness(t)
	h.uploader.err = &CollaboratorFailure{Step: StepTable, Err: errors.New("table unavailable")}
	h.recordChunks(t, 1)

	failures := make(chan error, 1)
	require.NoError(t, h.s.Upload(context.Background(),
		func(*UploadRecord) { t.Error("unexpected success") },
		func(err error) { failures <- err }))

	select {
	case err := <-failures:
		var cf *CollaboratorFailure
		require.ErrorAs(t, err, &cf)
		assert.Equal(t, StepTable, cf.Step)
	case <-time.After(waitFor):
		t.Fatal("upload did not complete")
	}
	assert.False(t, h.s.Snapshot().Uploading)
}

func TestUploadFailureWrapsPlainError(t *testing.T) {
	h := newHarness(t)
	plain := errors.New("connection reset")
	h.uploader.err = plain
	h.recordChunks(t, 1)

	failures := make(chan error, 1)
	require.NoError(t, h.s.Upload(context.Background(), nil, func(err error) { failures <- err }))

	select {
	case err := <-failures:
		var cf *CollaboratorFailure
		require.ErrorAs(t, err, &cf)
		assert.Equal(t, StepUpload, cf.Step)
		assert.ErrorIs(t, err, plain)
	case <-time.After(waitFor):
		t.Fatal("upload did not complete")
	}
}

func TestRecordWhileUploading(t *testing.T) {
	h := newHarness(t)
	h.uploader.release = make(chan struct{})
	h.recordChunks(t, 2)

	done := make(chan struct{})
	require.NoError(t, h.s.Upload(context.Background(), func(*UploadRecord) { close(done) }, nil))

	h.recordChunks(t, 1)
	close(h.uploader.release)

	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("upload did not complete")
	}
	// Upload used the snapshot taken before the second recording
	assert.Equal(t, int32(wavstream.HeaderSize+3200), h.uploader.bytes.Load())
	assert.Equal(t, 1600, h.s.Stream().DataLen())
}

func TestUploadWithoutUploader(t *testing.T) {
	s, err := New(Options{Microphone: newFakeMicrophone(8000), NewPlayer: (&playerFactory{}).New})
	require.NoError(t, err)
	assert.Error(t, s.Upload(context.Background(), nil, nil))
}

func TestLoadStream(t *testing.T) {
	h := newHarness(t)

	stream, err := wavstream.FromPCM(make([]byte, 800), 8000)
	require.NoError(t, err)
	require.NoError(t, h.s.LoadStream(stream))
	assert.True(t, h.s.Snapshot().Affordances.Play)
	assert.Equal(t, "50ms", h.s.Snapshot().Duration)

	require.NoError(t, h.s.Record())
	var ise *InvalidStateError
	require.ErrorAs(t, h.s.LoadStream(stream), &ise)
	require.NoError(t, h.s.Close())
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
}

func TestTickHeartbeatErrorsSwallowed(t *testing.T) {
	h := newHarness(t)

	var beats atomic.Int32
	h.s.heartbeat = func() error {
		beats.Add(1)
		return errors.New("dispatcher unavailable")
	}

	h.s.Tick()
	h.s.Tick()
	assert.Equal(t, int32(2), beats.Load())
	assert.Equal(t, StateIdle, h.s.Snapshot().State)
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	var beats atomic.Int32
	h.s.heartbeat = func() error {
		beats.Add(1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.Eventually(t, func() bool { return beats.Load() >= 3 }, waitFor, pollIn)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}
