package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"go.k6.io/bytestreams/cmd/state"
)

// Version is the released version, set at build time with
// -ldflags "-X go.k6.io/bytestreams/internal/cmd.Version=v1.2.3".
var Version = "v0.1.0" //nolint:gochecknoglobals

// versionString returns the version with the commit it was built from, when known.
func versionString() string {
	v := Version
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
				v += " (commit/" + setting.Value[:8] + ")"
				break
			}
		}
	}
	return fmt.Sprintf("%s, %s (%s/%s)", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func getCmdVersion(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version and exit.`,
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if _, err := fmt.Fprintf(gs.Stdout, "%s %s\n", gs.BinaryName, versionString()); err != nil {
				gs.Logger.WithError(err).Error("could not print the version")
			}
		},
	}
}
