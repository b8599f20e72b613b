//go:build !windows

package progress

import "os"

// enableANSIOnWindows is a no-op on Unix-like systems, which support ANSI
// escape sequences natively.
func enableANSIOnWindows(f *os.File) {}
