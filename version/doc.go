// Package version reports the build of the stagepipe binary.
//
// Version and commit are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/stagepipe/version.Version=1.0.0" ./cmd/stagepipe
//
// Unset values fall back to the VCS stamp the Go toolchain embeds.
package version
