// Package version provides build version information for the application.
// This is a separate package to avoid import cycles between cli and engine packages.
package version

import (
	"fmt"
	"os"
	"runtime"
)

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v1.2.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

// UserAgent returns the User-Agent header sent on every outgoing request.
// The archive asks bulk clients to identify themselves, so the string carries
// the application version plus OS and architecture.
//
// IA_GET_USER_AGENT overrides the whole string when set.
func UserAgent() string {
	if ua := os.Getenv("IA_GET_USER_AGENT"); ua != "" {
		return ua
	}
	return fmt.Sprintf("ia-get/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
