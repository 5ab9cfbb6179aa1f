package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/austindbirch/grpc_deliver/internal/plugin"
)

var (
	// These will be set by ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := map[string]any{
			"version":       Version,
			"gitCommit":     GitCommit,
			"buildTime":     BuildTime,
			"pluginVersion": plugin.Version(),
			"goVersion":     runtime.Version(),
			"goos":          runtime.GOOS,
			"goarch":        runtime.GOARCH,
		}
		printOutput(cmd.OutOrStdout(), info, func(w io.Writer) {
			fmt.Fprintf(w, "deliverctl version %s\n", Version)
			fmt.Fprintf(w, "Plugin interface: %d\n", plugin.Version())
			fmt.Fprintf(w, "Git commit: %s\n", GitCommit)
			fmt.Fprintf(w, "Built: %s\n", BuildTime)
			fmt.Fprintf(w, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		})
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
