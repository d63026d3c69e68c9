package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/jeeftor/vmcap/cmd.buildVersion=...".
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildTime    = "unknown"
)

var versionShort bool

// formatBuildTime accepts RFC 3339 or a Unix timestamp.
func formatBuildTime(raw string) string {
	const layout = "2006-01-02 15:04:05 MST"
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.Format(layout)
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC().Format(layout)
	}
	return raw
}

// displayVersion falls back to the module version and VCS revision that
// the Go toolchain stamps into the binary.
func displayVersion() (version, commit string) {
	version, commit = buildVersion, buildCommit
	if version != "dev" {
		return version, commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version, commit
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		version = "dev (" + v + ")"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && commit == "none" {
			commit = s.Value
		}
	}
	return version, commit
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if versionShort {
			fmt.Println(buildVersion)
			return
		}
		version, commit := displayVersion()

		exePath := "unknown"
		if exe, err := os.Executable(); err == nil {
			exePath, _ = filepath.Abs(exe)
		}

		label := color.New(color.FgWhite)
		rows := []struct {
			name  string
			value string
			c     *color.Color
		}{
			{"Version:", version, color.New(color.FgCyan, color.Bold)},
			{"Built:", formatBuildTime(buildTime), color.New(color.FgYellow)},
			{"Commit:", commit, color.New(color.FgGreen)},
			{"OS/Arch:", runtime.GOOS + "/" + runtime.GOARCH, color.New(color.FgMagenta)},
			{"Go:", runtime.Version(), color.New(color.FgRed)},
			{"Binary:", exePath, color.New(color.FgBlue)},
		}
		for _, r := range rows {
			label.Printf("%-9s", r.name)
			r.c.Println(r.value)
		}
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionShort, "short", "n", false, "print only the version number")
	rootCmd.AddCommand(versionCmd)
}
