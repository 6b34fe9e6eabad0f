package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var saveFile string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a note from the microphone",
	Long: `Record audio from the configured microphone until Enter or Ctrl+C is
pressed. Use --save to keep a copy of the recording and -p to continue with
playback and upload (e.g. -p rpu).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, stop, err := startService(ctx)
		if err != nil {
			return err
		}
		defer stop()

		steps := pipeline
		if steps == "" {
			steps = "r"
		}
		if !strings.HasPrefix(steps, "r") {
			return fmt.Errorf("pipeline for record must start with 'r', got %q", steps)
		}

		// Only the record step runs here, saving happens before the rest
		if err := svc.RunPipeline(ctx, "r", waitForEnter); err != nil {
			return err
		}
		writeStatus(os.Stdout, svc.Status())

		if saveFile != "" {
			if err := svc.SaveRecording(saveFile); err != nil {
				return err
			}
			fmt.Printf("Saved %s\n", saveFile)
		}

		if ctx.Err() != nil {
			return nil
		}
		if rest := steps[1:]; rest != "" {
			return svc.RunPipeline(ctx, rest, waitForEnter)
		}
		return nil
	},
}

// waitForEnter blocks until a line is read from stdin or ctx is canceled
func waitForEnter(ctx context.Context) error {
	fmt.Println("Recording... press Enter to stop (Ctrl+C also stops)")

	lines := make(chan struct{})
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		close(lines)
	}()

	select {
	case <-lines:
		return nil
	case <-ctx.Done():
		slog.Info("Stopping recording...")
		return ctx.Err()
	}
}

func init() {
	recordCmd.Flags().StringVar(&saveFile, "save", "", "write the recording to this WAV file")
	recordCmd.Flags().StringVarP(&pipeline, "pipeline", "p", "", "pipeline steps: r=record, p=play, u=upload (e.g., 'rpu')")
}
