package audio

import (
	"time"
)

// PlaybackState represents the polled state of a playback instance
type PlaybackState string

const (
	PlaybackPlaying PlaybackState = "PLAYING"
	PlaybackStopped PlaybackState = "STOPPED"
)

// Microphone is the capture hardware as seen by the capture pipeline.
//
// Start arms the device and calls ready once per bufferDuration worth of
// captured audio. ready runs on the audio thread and must return quickly.
// GetData copies at most len(buf) bytes of PCM16 mono samples into buf.
type Microphone interface {
	SampleRate() int
	Start(bufferDuration time.Duration, ready func()) error
	Stop() error
	GetData(buf []byte) (int, error)
}

// Player plays a PCM buffer. State is polled; there is no completion event.
type Player interface {
	Play() error
	Stop() error
	State() PlaybackState
}

// PlayerFactory constructs a Player for raw PCM16 samples
type PlayerFactory func(pcm []byte, sampleRate, channels int) (Player, error)
