package daemon

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/config"
	"github.com/rs/zerolog"
)

// sections that change what a run fetches or how it is graded
var runnerSections = []string{"grading", "ttl", "daemon.policy_types", "daemon.product_types", "daemon.include_zero_trust"}

func (o *Orchestrator) handleReload(ticker *time.Ticker) {
	diff, err := o.reload(o.hardCtx)
	if err != nil {
		o.logger.Error().Err(err).Msg("reload failed, keeping current configuration")
		return
	}
	if diff.Has("daemon.check_interval_seconds") {
		ticker.Reset(o.cfg.Load().Daemon.CheckInterval())
	}
}

// reload re-reads the configuration and applies what can change live. All
// fallible preparation happens before anything is applied, so a failed
// reload leaves the daemon untouched.
func (o *Orchestrator) reload(ctx context.Context) (config.Diff, error) {
	if o.opts.ConfigPath == "" {
		return config.Diff{}, errors.New("no config file to reload")
	}
	next, err := config.Load(o.opts.ConfigPath)
	if err != nil {
		return config.Diff{}, err
	}
	current := o.cfg.Load()
	effective, diff := config.Reconcile(current, next)

	for _, name := range diff.Rejected {
		o.logger.Warn().Str("section", name).Msg("change requires a restart, ignoring")
	}
	if len(diff.Changed) == 0 {
		o.logger.Info().Msg("configuration reloaded, nothing to apply")
		return diff, nil
	}

	comps := *o.comps.Load()
	rebuild := false
	for _, name := range runnerSections {
		rebuild = rebuild || diff.Has(name)
	}
	if diff.Has("grading") || diff.Has("daemon.policy_types") {
		standards, err := loadStandards(effective)
		if err != nil {
			return diff, err
		}
		comps.Standards = standards
	}

	out, prev := effective.Daemon.Output, current.Daemon.Output
	if out.Dir != prev.Dir || !reflect.DeepEqual(out.S3, prev.S3) {
		writer, err := NewWriter(ctx, effective, o.opts.Version, o.now)
		if err != nil {
			return diff, configError("daemon.output", err)
		}
		comps.Writer = writer
		rebuild = true
	} else if diff.Has("daemon.output") {
		comps.Writer.Reconfigure(out.Compress, time.Duration(out.MaxAgeDays)*24*time.Hour, out.MaxFilesPerType)
	}

	if rebuild {
		runner, err := comps.NewRunner(effective, o.now)
		if err != nil {
			return diff, configError("grading", err)
		}
		comps.Runner = runner
	}

	if diff.Has("daemon.schedules") {
		if err := o.registerTasks(effective); err != nil {
			return diff, configError("daemon.schedules", err)
		}
	}
	if diff.Has("daemon.rate_limit") {
		comps.Limiter.Reconfigure(effective.Daemon.RateLimit.Limiter())
	}
	if diff.Has("logging") {
		if level, err := zerolog.ParseLevel(effective.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	o.comps.Store(&comps)
	o.cfg.Store(effective)

	if diff.Has("daemon.health_check") {
		if err := o.stopHealth(); err != nil {
			o.logger.Warn().Err(err).Msg("health server did not stop cleanly")
		}
		if err := o.startHealth(effective); err != nil {
			o.logger.Error().Err(err).Msg("health server restart failed")
		}
	}
	if diff.Has("daemon.watch_config") {
		o.setWatch(effective.Daemon.WatchConfig)
	}

	o.refreshSchedule(o.now())
	o.logger.Info().Strs("applied", diff.Changed).Msg("configuration reloaded")
	return diff, nil
}
