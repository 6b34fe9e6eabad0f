package wavstream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Stream is a finalized WAV byte sequence: header followed by PCM16 mono
// samples. It is never mutated after construction.
type Stream struct {
	buf    []byte
	header Header
}

// New validates buf as a finalized stream. The slice is retained.
func New(buf []byte) (*Stream, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if int(h.DataSize) != len(buf)-HeaderSize {
		return nil, fmt.Errorf("%w: data size %d does not match payload %d",
			ErrInvalidHeader, h.DataSize, len(buf)-HeaderSize)
	}
	return &Stream{buf: buf, header: h}, nil
}

// FromPCM frames pcm with a finalized header.
func FromPCM(pcm []byte, sampleRate int) (*Stream, error) {
	var b bytes.Buffer
	b.Grow(HeaderSize + len(pcm))
	if err := WriteHeader(&b, sampleRate); err != nil {
		return nil, err
	}
	b.Write(pcm)
	buf := b.Bytes()
	if err := Finalize(buf); err != nil {
		return nil, err
	}
	return New(buf)
}

func (s *Stream) Bytes() []byte  { return s.buf }
func (s *Stream) PCM() []byte    { return s.buf[HeaderSize:] }
func (s *Stream) Len() int       { return len(s.buf) }
func (s *Stream) DataLen() int   { return len(s.buf) - HeaderSize }
func (s *Stream) Header() Header { return s.header }
func (s *Stream) SampleRate() int {
	return int(s.header.SampleRate)
}

// Empty reports whether the stream carries no samples.
func (s *Stream) Empty() bool {
	return s == nil || s.DataLen() == 0
}

// Duration is the playback length of the PCM payload.
func (s *Stream) Duration() time.Duration {
	if s.header.ByteRate == 0 {
		return 0
	}
	return time.Duration(s.DataLen()) * time.Second / time.Duration(s.header.ByteRate)
}

// Reader returns a fresh reader positioned at the start of the stream.
func (s *Stream) Reader() *bytes.Reader {
	return bytes.NewReader(s.buf)
}

// Decode reads a WAV file and returns it in the PCM16 mono layout. Files
// with a different sample format or channel count are rejected rather than
// converted.
func Decode(r io.ReadSeeker) (*Stream, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid wav file", ErrInvalidHeader)
	}
	if d.WavAudioFormat != formatPCM || d.BitDepth != BitsPerSample || d.NumChans != Channels {
		return nil, fmt.Errorf("%w: want PCM16 mono, got format=%d bits=%d channels=%d",
			ErrInvalidHeader, d.WavAudioFormat, d.BitDepth, d.NumChans)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcm data: %w", err)
	}

	pcm := make([]byte, len(buf.Data)*BytesPerSample)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return FromPCM(pcm, int(d.SampleRate))
}

// Encode writes s to w through the go-audio encoder, which emits its own
// header on Close.
func Encode(w io.WriteSeeker, s *Stream) error {
	pcm := s.PCM()
	data := make([]int, len(pcm)/BytesPerSample)
	for i := range data {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	enc := wav.NewEncoder(w, s.SampleRate(), BitsPerSample, Channels, formatPCM)
	ib := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: s.SampleRate(), NumChannels: Channels},
		SourceBitDepth: BitsPerSample,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("failed to encode samples: %w", err)
	}
	return enc.Close()
}
