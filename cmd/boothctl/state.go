package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boothworks/booth-core/internal/protocol"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the booth's current interaction state",
	RunE:  runState,
}

func init() {
	rootCmd.AddCommand(stateCmd)
}

func runState(cmd *cobra.Command, args []string) error {
	var update protocol.StateUpdate
	if err := getJSON("/v1/state", &update); err != nil {
		return err
	}

	fmt.Printf("State:   %s\n", update.State)
	if update.VisitID != "" {
		fmt.Printf("Visit:   %s\n", update.VisitID)
	}
	fmt.Printf("Faces:   %d\n", len(update.Boxes))
	capture := "hidden"
	if update.CaptureVisible {
		capture = "visible"
	}
	fmt.Printf("Capture: %s\n", capture)
	fmt.Printf("Changed: %s\n", update.ChangedAt.Format(time.RFC3339))

	return nil
}
