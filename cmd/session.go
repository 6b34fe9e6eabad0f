package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micnote/internal/service"
	"github.com/audiolibrelab/micnote/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Interactive recording console",
	Long: `Start an interactive console driving a single recording session.

Commands: record, stop, play, upload, status, save <file>, quit.
The actions available in the current state are listed after each command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, stop, err := startService(ctx)
		if err != nil {
			return err
		}
		defer stop()

		return runConsole(ctx, svc, os.Stdin, os.Stdout)
	},
}

// console is the part of the service the interactive console drives
type console interface {
	StartRecording() error
	Stop() error
	Play() error
	Upload(ctx context.Context) error
	SaveRecording(path string) error
	Status() service.Status
}

// runConsole reads commands from in until quit, EOF or ctx is done.
// Command errors are printed and the console keeps going.
func runConsole(ctx context.Context, svc console, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	writeStatus(out, svc.Status())
	for {
		fmt.Fprint(out, "> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "record", "r":
			err = svc.StartRecording()
		case "stop", "s":
			err = svc.Stop()
		case "play", "p":
			err = svc.Play()
		case "upload", "u":
			// The upload outlives this command, its result shows in status
			err = svc.Upload(ctx)
		case "save":
			if len(fields) != 2 {
				err = fmt.Errorf("usage: save <file.wav>")
				break
			}
			err = svc.SaveRecording(fields[1])
		case "status":
		case "quit", "exit", "q":
			return nil
		default:
			err = fmt.Errorf("unknown command %q", fields[0])
		}

		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		writeStatus(out, svc.Status())
	}
}

func writeStatus(w io.Writer, st service.Status) {
	state := string(st.State)
	if st.Uploading {
		state += " (uploading)"
	}
	fmt.Fprintf(w, "[%s] %s, %s\n", state, st.Duration, service.FormatBytes(int64(st.StreamBytes)))
	if st.LastError != "" {
		fmt.Fprintf(w, "  last error: %s\n", st.LastError)
	}
	if st.LastUpload != nil {
		fmt.Fprintf(w, "  last upload: %s\n", st.LastUpload.URI)
	}
	fmt.Fprintf(w, "  available: %s\n", strings.Join(available(st.Affordances), ", "))
}

func available(a session.Affordances) []string {
	var names []string
	if a.Record {
		names = append(names, "record")
	}
	if a.Stop {
		names = append(names, "stop")
	}
	if a.Play {
		names = append(names, "play")
	}
	if a.Upload {
		names = append(names, "upload")
	}
	return append(names, "status", "quit")
}
