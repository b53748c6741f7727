package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tracebridge",
	Short: "OTLP to Langfuse telemetry bridge for Claude Code",
	Long: `tracebridge receives OTLP HTTP/JSON logs and metrics emitted by Claude Code
and projects them into Langfuse as conversation traces, generations, events
and session summary scores.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
