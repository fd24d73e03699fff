// Package version reports build information for flowkit applications.
//
// The application version and commit can be set at link time:
//
//	go build -ldflags "-X github.com/kbukum/flowkit/version.Version=1.4.0"
//
// Anything left unset falls back to the VCS stamps of the Go build info.
package version
