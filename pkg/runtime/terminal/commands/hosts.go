package commands

import (
	"fmt"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal/export"
	"github.com/spf13/cobra"
)

type HostsCmd struct {
	env      *Env
	reporter *export.Reporter
	status   string
	asJSON   bool
}

func NewHostsCmd(env *Env, reporter *export.Reporter) *cobra.Command {
	hc := &HostsCmd{env: env, reporter: reporter}
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Show per host compliance from the last graded state",
		RunE:  hc.run,
	}

	cmd.Flags().StringVar(&hc.status, "status", "all", "Filter hosts: all, passed, failed or incomplete")
	cmd.Flags().BoolVar(&hc.asJSON, "json", false, "Print as JSON")

	return cmd
}

func (hc *HostsCmd) run(cmd *cobra.Command, _ []string) error {
	keep, err := hostFilter(hc.status)
	if err != nil {
		return err
	}
	ctx, cancel := hc.env.Context(cmd.Context())
	defer cancel()

	comps, err := hc.env.Assemble(ctx, true)
	if err != nil {
		return err
	}
	defer comps.Close()

	res, err := comps.Runner.Load(ctx)
	if err != nil {
		return err
	}

	var hosts []domain.HostComplianceView
	for _, v := range res.Hosts {
		if keep(v) {
			hosts = append(hosts, v)
		}
	}
	section := export.HostSection{Summary: grading.SummarizeHosts(res.Hosts), Hosts: hosts}
	if hc.asJSON {
		return hc.reporter.JSON(section)
	}
	return hc.reporter.Hosts(section)
}

func hostFilter(status string) (func(domain.HostComplianceView) bool, error) {
	switch status {
	case "all":
		return func(domain.HostComplianceView) bool { return true }, nil
	case "passed":
		return func(v domain.HostComplianceView) bool { return v.AllPassed }, nil
	case "failed":
		return func(v domain.HostComplianceView) bool { return v.AnyFailed }, nil
	case "incomplete":
		return func(v domain.HostComplianceView) bool { return !v.AllPassed && !v.AnyFailed }, nil
	}
	return nil, fmt.Errorf("unknown host status filter %q", status)
}
