package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type captureRow struct {
	ID       string    `json:"id"`
	VisitID  string    `json:"visit_id"`
	TakenAt  time.Time `json:"taken_at"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	ImageURL string    `json:"image_url"`
	ThumbURL string    `json:"thumb_url"`
}

var capturesCmd = &cobra.Command{
	Use:   "captures",
	Short: "List photos the booth has kept",
	RunE:  runCaptures,
}

func init() {
	rootCmd.AddCommand(capturesCmd)

	capturesCmd.Flags().Int("limit", 20, "Maximum number of photos to list")
}

func runCaptures(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")

	var rows []captureRow
	if err := getJSON(fmt.Sprintf("/v1/captures?limit=%d", limit), &rows); err != nil {
		return err
	}

	if len(rows) == 0 {
		fmt.Println("no captures")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAKEN\tSIZE\tVISIT")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%s\n",
			row.ID,
			row.TakenAt.Local().Format(time.RFC3339),
			row.Width, row.Height,
			row.VisitID)
	}
	return w.Flush()
}
