// Package wavstream frames raw PCM16 mono audio as an in-memory RIFF/WAV stream.
package wavstream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderSize is the length of the canonical PCM WAV header.
	HeaderSize = 44

	// BitsPerSample and Channels are fixed by this package.
	BitsPerSample = 16
	Channels      = 1

	// BytesPerSample is the block align of a PCM16 mono frame.
	BytesPerSample = BitsPerSample / 8 * Channels

	// ContentType is the MIME type used when a stream leaves the process.
	ContentType = "audio/wav"

	formatPCM       = 1
	fmtChunkSize    = 16
	chunkSizeOffset = 4
	dataSizeOffset  = 40
)

// ErrInvalidHeader is returned when a byte slice does not start with the
// 44-byte PCM header this package writes.
var ErrInvalidHeader = errors.New("invalid wav header")

// Header is the decoded form of the 44-byte header.
type Header struct {
	ChunkSize     uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// WriteHeader writes a placeholder header for PCM16 mono audio at sampleRate.
// ChunkSize and Subchunk2Size are zero until Finalize patches them.
func WriteHeader(w io.Writer, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got %d", sampleRate)
	}

	var h [HeaderSize]byte
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(h[20:22], formatPCM)
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(sampleRate*BytesPerSample))
	binary.LittleEndian.PutUint16(h[32:34], BytesPerSample)
	binary.LittleEndian.PutUint16(h[34:36], BitsPerSample)
	copy(h[36:40], "data")

	_, err := w.Write(h[:])
	return err
}

// Finalize patches ChunkSize (36 + data length) and Subchunk2Size (data
// length) of a buffer that starts with a header from WriteHeader.
func Finalize(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: buffer is %d bytes", ErrInvalidHeader, len(buf))
	}
	dataLen := uint32(len(buf) - HeaderSize)
	binary.LittleEndian.PutUint32(buf[chunkSizeOffset:], HeaderSize-8+dataLen)
	binary.LittleEndian.PutUint32(buf[dataSizeOffset:], dataLen)
	return nil
}

// ParseHeader validates and decodes the first 44 bytes of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(buf))
	}
	if string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: missing RIFF/WAVE tag", ErrInvalidHeader)
	}
	if string(buf[12:16]) != "fmt " || string(buf[36:40]) != "data" {
		return Header{}, fmt.Errorf("%w: unexpected chunk layout", ErrInvalidHeader)
	}

	h := Header{
		ChunkSize:     binary.LittleEndian.Uint32(buf[4:8]),
		AudioFormat:   binary.LittleEndian.Uint16(buf[20:22]),
		NumChannels:   binary.LittleEndian.Uint16(buf[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(buf[24:28]),
		ByteRate:      binary.LittleEndian.Uint32(buf[28:32]),
		BlockAlign:    binary.LittleEndian.Uint16(buf[32:34]),
		BitsPerSample: binary.LittleEndian.Uint16(buf[34:36]),
		DataSize:      binary.LittleEndian.Uint32(buf[40:44]),
	}
	if h.AudioFormat != formatPCM || h.BitsPerSample != BitsPerSample || h.NumChannels != Channels {
		return Header{}, fmt.Errorf("%w: want PCM16 mono, got format=%d bits=%d channels=%d",
			ErrInvalidHeader, h.AudioFormat, h.BitsPerSample, h.NumChannels)
	}
	return h, nil
}

// ChunkBytes returns the byte size of one capture chunk of the given
// duration in milliseconds at sampleRate.
func ChunkBytes(sampleRate, bufferDurationMs int) int {
	return sampleRate * bufferDurationMs / 1000 * BytesPerSample
}
