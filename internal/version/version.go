// Package version provides build and version information for Greenwave.
package version

// Version is the current release version of Greenwave.
// This can be overridden at build time using:
//
//	go build -ldflags "-X github.com/trafficlab/greenwave/internal/version.Version=x.y.z"
var Version = "1.0.0"
