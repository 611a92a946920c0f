package trafficai

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version reports the build's VCS revision, following
// helix/cmd/helix/version.go's debug.ReadBuildInfo lookup.
func Version() string {
	version := "<unknown>"
	info, ok := debug.ReadBuildInfo()
	if ok {
		for _, kv := range info.Settings {
			if kv.Value == "" {
				continue
			}
			if kv.Key == "vcs.revision" {
				version = kv.Value
			}
		}
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version())
		},
	}
}
