// Package main provides the entry point for the Documette API server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "documette",
	Short: "Documette meeting minutes service",
	Long:  "Documette turns uploaded meeting audio into structured meeting minutes through transcription, speaker identification and document drafting.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
