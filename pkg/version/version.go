// Package version holds the CLI version, stamped at build time via ldflags.
package version

// Version is the semantic version of this build.
var Version = "0.0.1"
