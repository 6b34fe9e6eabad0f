package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file.wav>",
	Short: "Upload a WAV file as a note",
	Long: `Upload a 16-bit mono WAV file to the configured blob store and write its
metadata record, exactly as a recording made with 'micnote record -p ru'.`,
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

		record, err := svc.UploadAndWait(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Uploaded %s\n", args[0])
		fmt.Printf("  uri:     %s\n", record.URI)
		fmt.Printf("  row_key: %s\n", record.RowKey)
		return nil
	},
}
