package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "classtrack",
	Short: "Classroom attendance from camera face recognition",
	Long: `ClassTrack turns per-room camera face detections into a central
attendance ledger. The serve command runs the ledger API, the agent command
runs the room-side pipeline, and the remaining commands are operator tools
for enrollment and reporting.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
