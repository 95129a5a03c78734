// ffscript/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ffscript",
		Short: "Translate ffmpeg scripts and run them as jobs",
		Long: `ffscript turns a comment-annotated script of ffmpeg directives plus a set of
uploaded media files into an ffmpeg argument list, and runs it either on this
host or against object storage. Without a subcommand it serves the HTTP API.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.AddCommand(newServeCmd(), newTranslateCmd(), newRunCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
