package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/service"
)

var (
	cfg          *config.Config
	cfgFile      string
	pipeline     string
	profile      string
	logFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "micnote",
	Short: "Record short voice notes and upload them",
	Long: `micnote records audio from a microphone into an in-memory WAV stream.
The recording can be played back and uploaded to a blob store, with a
metadata record written to a table store.

Run 'micnote session' for an interactive console or 'micnote serve' for
the web interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel, logFile)

		// Device listing and header inspection work without a config
		if cmd.Name() == "sources" || cmd.Name() == "info" {
			return nil
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = os.ExpandEnv("$HOME/.config/micnote.yaml")
		}

		var err error
		cfg, err = config.Load(cfgFile, profile, explicit)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if pipeline != "" {
			if err := service.ValidateSteps(pipeline); err != nil {
				return err
			}
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/micnote.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int, path string) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}

// signalContext is canceled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// startService builds the service and runs its tick loop until the returned
// stop function is called
func startService(ctx context.Context) (*service.MicnoteService, func(), error) {
	svc, err := service.New(ctx, cfg, cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create service: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(runCtx); err != nil {
			slog.Error("Tick loop stopped", "error", err)
		}
	}()

	stop := func() {
		cancel()
		<-done
		if err := svc.Close(); err != nil {
			slog.Warn("Failed to close service", "error", err)
		}
	}
	return svc, stop, nil
}
