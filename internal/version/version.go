// Package version carries the build version, overridden at link time.
package version

var Version = "dev"
