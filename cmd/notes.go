package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var notesLimit int

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "List uploaded notes, newest first",
	Long:  `List the metadata records of uploaded notes. Requires a sqlite or mysql metadata backend.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		svc, stop, err := startService(ctx)
		if err != nil {
			return err
		}
		defer stop()

		records, err := svc.RecentUploads(ctx, notesLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No notes uploaded yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tDEVICE\tURI")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.DeviceID, r.URI)
		}
		return w.Flush()
	},
}

func init() {
	notesCmd.Flags().IntVarP(&notesLimit, "limit", "n", 20, "number of notes to list")
}
