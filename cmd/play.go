package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <file.wav>",
	Short: "Play a WAV file through the configured output",
	Long: `Decode a 16-bit mono WAV file and play it through the audio backend,
returning when playback finishes. Ctrl+C stops playback early.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, stop, err := startService(ctx)
		if err != nil {
			return err
		}
		defer stop()

		if err := svc.LoadFile(args[0]); err != nil {
			return err
		}

		stream := svc.Stream()
		fmt.Printf("Playing %s (%s, %d Hz)\n", args[0], stream.Duration(), stream.SampleRate())

		if err := svc.PlayAndWait(ctx); err != nil {
			if ctx.Err() != nil {
				// Interrupted with Ctrl+C
				return nil
			}
			return err
		}
		return nil
	},
}
