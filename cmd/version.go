// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	rtdebug "runtime/debug"

	"github.com/spf13/cobra"
)

// Build-time variables (set via -ldflags)
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// GitCommit is the git commit hash
	GitCommit = "unknown"

	// BuildDate is the build timestamp
	BuildDate = "unknown"
)

// TusProtocolVersion is the tus resumable upload protocol version served.
const TusProtocolVersion = "1.0.0"

const tusdModule = "github.com/tus/tusd/v2"

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("ZapDrop {{.Version}}\n")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and upload engine information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func printVersion(w io.Writer) {
	info := VersionInfo()
	fmt.Fprintf(w, "ZapDrop %s\n", info["version"])
	fmt.Fprintf(w, "  Git commit:   %s\n", info["git_commit"])
	fmt.Fprintf(w, "  Built:        %s\n", info["build_date"])
	fmt.Fprintf(w, "  Go version:   %s\n", info["go_version"])
	fmt.Fprintf(w, "  OS/Arch:      %s/%s\n", info["os"], info["arch"])
	fmt.Fprintf(w, "  tus protocol: %s\n", info["tus_protocol"])
	fmt.Fprintf(w, "  tusd:         %s\n", info["tusd"])
}

// tusdVersion is the linked upload engine module version, or "unknown" in
// binaries built without module information.
func tusdVersion() string {
	bi, ok := rtdebug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range bi.Deps {
		if dep.Path != tusdModule {
			continue
		}
		if dep.Replace != nil {
			return dep.Replace.Version
		}
		return dep.Version
	}
	return "unknown"
}

// VersionInfo returns structured version information.
func VersionInfo() map[string]string {
	return map[string]string{
		"version":      Version,
		"git_commit":   GitCommit,
		"build_date":   BuildDate,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"tus_protocol": TusProtocolVersion,
		"tusd":         tusdVersion(),
	}
}

// handleVersion serves VersionInfo on the debug mux.
func handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VersionInfo())
}
