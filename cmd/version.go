package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the migrator version",
	Long: `Print the module version and the VCS revision it was built from. A
revision with uncommitted changes is marked modified.`,
	Example: `  migrator version
  migrator version --json`,
	Run: runVersion,
}

var versionJSON bool

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print build details as JSON")
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	if !versionJSON {
		fmt.Fprintln(out, getVersion())
		return
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(readBuild()); err != nil {
		log.Fatalf("Failed to encode version: %v", err)
	}
}

// buildDetails is what the binary knows about its own build
type buildDetails struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
}

func readBuild() buildDetails {
	b := buildDetails{Version: "dev", GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		b.Version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			b.Revision = s.Value
			if len(b.Revision) > 7 {
				b.Revision = b.Revision[:7]
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// getVersion renders readBuild as "v1.2.0 (abc1234 modified)"
func getVersion() string {
	b := readBuild()
	switch {
	case b.Revision == "":
		return b.Version
	case b.Modified:
		return fmt.Sprintf("%s (%s modified)", b.Version, b.Revision)
	default:
		return fmt.Sprintf("%s (%s)", b.Version, b.Revision)
	}
}
