package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micnote/internal/service"
	"github.com/audiolibrelab/micnote/internal/wavstream"
)

var infoCmd = &cobra.Command{
	Use:   "info <file.wav>",
	Short: "Show the WAV header fields and duration of a recording",
	Long: `Show the header of a WAV file. Files in the canonical 44-byte layout are
reported as stored. Other PCM16 mono files are decoded first and the header
shown is the normalized one micnote would write for the same samples.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		stream, normalized, err := describeWAV(raw)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		writeInfo(os.Stdout, args[0], stream, normalized, len(raw))
		return nil
	},
}

// describeWAV keeps raw as-is when it is a finalized canonical stream and
// otherwise decodes it into one. normalized reports the second case.
func describeWAV(raw []byte) (*wavstream.Stream, bool, error) {
	if stream, err := wavstream.New(raw); err == nil {
		return stream, false, nil
	}
	stream, err := wavstream.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, err
	}
	return stream, true, nil
}

func writeInfo(w io.Writer, name string, stream *wavstream.Stream, normalized bool, fileSize int) {
	h := stream.Header()

	fmt.Fprintf(w, "=== %s ===\n", name)
	if normalized {
		fmt.Fprintln(w, "header:          normalized (file is not in the canonical 44-byte layout)")
	}
	fmt.Fprintf(w, "chunk_size:      %d\n", h.ChunkSize)
	fmt.Fprintf(w, "audio_format:    %d (PCM)\n", h.AudioFormat)
	fmt.Fprintf(w, "channels:        %d\n", h.NumChannels)
	fmt.Fprintf(w, "sample_rate:     %d\n", h.SampleRate)
	fmt.Fprintf(w, "byte_rate:       %d\n", h.ByteRate)
	fmt.Fprintf(w, "block_align:     %d\n", h.BlockAlign)
	fmt.Fprintf(w, "bits_per_sample: %d\n", h.BitsPerSample)
	fmt.Fprintf(w, "data_size:       %d\n", h.DataSize)
	fmt.Fprintf(w, "duration:        %s\n", stream.Duration())
	fmt.Fprintf(w, "size:            %s\n", service.FormatBytes(int64(fileSize)))
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
