package commands

import (
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

type PoliciesCmd struct {
	env        *Env
	reporter   *export.Reporter
	types      []string
	failedOnly bool
	asJSON     bool
}

func NewPoliciesCmd(env *Env, reporter *export.Reporter) *cobra.Command {
	pc := &PoliciesCmd{env: env, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Show the last graded policies from the cache",
		RunE:  pc.run,
	}

	cmd.Flags().StringSliceVarP(&pc.types, "type", "t", nil, "Policy types to show (default: all configured)")
	cmd.Flags().BoolVar(&pc.failedOnly, "failed", false, "Show failing policies only")
	cmd.Flags().BoolVar(&pc.asJSON, "json", false, "Print as JSON")

	return cmd
}

func (pc *PoliciesCmd) run(cmd *cobra.Command, _ []string) error {
	if err := pc.env.restrictTypes(pc.types); err != nil {
		return err
	}
	ctx, cancel := pc.env.Context(cmd.Context())
	defer cancel()

	comps, err := pc.env.Assemble(ctx, true)
	if err != nil {
		return err
	}
	defer comps.Close()

	res, err := comps.Runner.Load(ctx)
	if err != nil {
		return err
	}

	sections := export.PolicySections(res.Graded, pc.failedOnly)
	if pc.asJSON {
		return pc.reporter.JSON(sections)
	}
	return pc.reporter.Policies(sections)
}
