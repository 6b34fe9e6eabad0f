package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/micnote/internal/audio"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture devices",
	Long:  `List the capture devices the malgo backend can record from. Use a name (or part of it) as audio.device in the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Audio backends (%s): %v\n\n", runtime.GOOS, audio.GetAvailableBackends())

		devices, err := audio.ListDevices()
		if err != nil {
			return fmt.Errorf("failed to list capture devices: %w", err)
		}

		fmt.Printf("Capture devices (%d found):\n", len(devices))
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, d.Index+1, d.Name)
		}
		if len(devices) > 0 {
			fmt.Printf("\n* marks the system default, used when audio.device is empty\n")
		}
		return nil
	},
}
