package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Ask the booth to take a photo",
	Long: `Sends a capture request to the booth. The booth only honors it while a
visitor has accepted a photo and the capture window is open; requests at
any other time are acknowledged and dropped.`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	if err := postJSON("/v1/capture", 202, nil); err != nil {
		return err
	}
	fmt.Println("capture requested")
	return nil
}
