package commands

import (
	"errors"
	"fmt"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal/export"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/audit"
	"github.com/spf13/cobra"
)

type FetchCmd struct {
	env      *Env
	reporter *export.Reporter
	regrade  bool
	types    []string
	asJSON   bool
}

// NewFetchCmd runs one audit pass against the API.
func NewFetchCmd(env *Env, reporter *export.Reporter) *cobra.Command {
	fc := &FetchCmd{env: env, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch hosts and policies, grade them and write reports",
		RunE:  fc.run,
	}
	fc.flags(cmd)
	return cmd
}

// NewRegradeCmd grades cached records with the current standards.
func NewRegradeCmd(env *Env, reporter *export.Reporter) *cobra.Command {
	fc := &FetchCmd{env: env, reporter: reporter, regrade: true}
	cmd := &cobra.Command{
		Use:   "regrade",
		Short: "Grade cached records again without calling the API",
		RunE:  fc.run,
	}
	fc.flags(cmd)
	return cmd
}

func (fc *FetchCmd) flags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&fc.types, "type", "t", nil, "Policy types to process (default: all configured)")
	cmd.Flags().BoolVar(&fc.asJSON, "json", false, "Print graded results as JSON")
}

func (fc *FetchCmd) run(cmd *cobra.Command, _ []string) error {
	if err := fc.env.restrictTypes(fc.types); err != nil {
		return err
	}
	ctx, cancel := fc.env.Context(cmd.Context())
	defer cancel()

	comps, err := fc.env.Assemble(ctx, fc.regrade)
	if err != nil {
		return err
	}
	defer comps.Close()

	var res *audit.Result
	if fc.regrade {
		res, err = comps.Runner.Regrade(ctx, ctx.Done())
	} else {
		res, err = comps.Runner.Run(ctx, ctx.Done())
	}
	if res == nil || errors.Is(err, audit.ErrInterrupted) {
		return err
	}

	if fc.asJSON {
		if jerr := fc.reporter.JSON(res.Graded); jerr != nil {
			return jerr
		}
	} else {
		if rerr := fc.reporter.Policies(export.PolicySections(res.Graded, false)); rerr != nil {
			return rerr
		}
		if rerr := fc.reporter.Run(res); rerr != nil {
			return rerr
		}
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", res.RunID, err)
	}
	return nil
}
