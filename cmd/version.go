package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/lingorelay/lingorelay/internal/build"
)

// NewVersionCommand returns the command to get the lingorelay version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the LingoRelay version",
		Long:  "Return the LingoRelay version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("LingoRelay Version %s commit id %s ", build.Version, build.Commit)
	return nil
}
