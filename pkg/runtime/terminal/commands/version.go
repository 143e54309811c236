package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Annotations: map[string]string{
			SkipConfig: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "policy-audit %s\n", version)
			return err
		},
	}
}

// SkipConfig marks commands that run without loading the configuration.
const SkipConfig = "skip-config"
