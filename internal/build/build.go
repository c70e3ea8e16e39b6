// Package build holds build-time metadata stamped via -ldflags.
package build

// ProjectName is used to prefix metric names and trace attributes.
const ProjectName = "lingorelay"

var (
	// Version is the release version of the binary.
	Version = "dev"

	// Commit is the git commit the binary was built from.
	Commit = ""
)
