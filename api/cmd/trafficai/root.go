// Package trafficai is the CLI entrypoint for the streaming core: a small
// cobra command tree with "serve" and "version", following the teacher's
// root.go/runner.go shape.
package trafficai

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Fatal is the process-exit path for unrecoverable CLI errors.
var Fatal = FatalErrorHandler

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   os.Args[0],
		Short: "trafficai",
		Long:  "Accident-detection streaming core",
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	rootCmd := NewRootCmd()
	rootCmd.SetContext(context.Background())
	rootCmd.SetOutput(os.Stdout)
	if err := rootCmd.Execute(); err != nil {
		Fatal(rootCmd, err.Error(), 1)
	}
}

// FatalErrorHandler prints msg to the command's output and exits with code.
func FatalErrorHandler(cmd *cobra.Command, msg string, code int) {
	if len(msg) > 0 {
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		cmd.Print(msg)
	}
	os.Exit(code)
}
