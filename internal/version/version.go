// Package version holds the build identity stamped into the
// friction.report binaries. Release builds override these with
// -ldflags "-X"; a plain go build reports "dev".
package version

var (
	// Version is the release tag, or "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is when the binary was linked, RFC 3339.
	BuildTime = "unknown"
)
