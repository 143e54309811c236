package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/adapters"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/scheduler"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/server"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/audit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/services/config"
	"github.com/rs/zerolog"
)

const (
	TaskFetchAndGrade = "fetch_and_grade"
	TaskCleanup       = "cleanup"
	TaskMetrics       = "metrics"
)

type message int

const (
	msgReload message = iota
	msgShutdown
)

var errGraceExpired = errors.New("shutdown grace period expired before the run finished")

type Options struct {
	// ConfigPath is re-read on reload. It may be empty when Config is set.
	ConfigPath string
	Config     *config.Config
	// Immediate runs fetch_and_grade once when the loop starts.
	Immediate     bool
	Version       string
	Logger        zerolog.Logger
	ClientFactory ClientFactory
	Clock         func() time.Time
}

// Orchestrator owns the daemon lifecycle. Run is single threaded; tick
// work happens on at most one worker goroutine at a time.
type Orchestrator struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	cfg   atomic.Pointer[config.Config]
	comps atomic.Pointer[Components]
	state *State
	sched *scheduler.Scheduler

	health atomic.Pointer[server.HealthServer]
	// owned by the Run goroutine
	watcher *configWatcher

	control    chan message
	drain      chan struct{}
	hardCtx    context.Context
	hardCancel context.CancelFunc
	busy       atomic.Bool
	inflight   sync.WaitGroup
	// running is set while fetch_and_grade is in flight. Whoever clears it
	// records the run, so an abandoned run is counted exactly once.
	running atomic.Bool
	// abandonAfter bounds the wait for a task that ignores cancellation.
	abandonAfter time.Duration
}

func New(opts Options) *Orchestrator {
	if opts.ClientFactory == nil {
		opts.ClientFactory = DefaultClientFactory
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger.With().Str("component", "daemon").Logger()
	hardCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))

	return &Orchestrator{
		opts:       opts,
		logger:     logger,
		now:        opts.Clock,
		state:      NewState(opts.Clock()),
		sched:      scheduler.New(),
		control:    make(chan message, 4),
		drain:      make(chan struct{}),
		hardCtx:    hardCtx,
		hardCancel: cancel,

		abandonAfter: 5 * time.Second,
	}
}

// Init validates the configuration and opens every collaborator. On error
// nothing is left open and the daemon never reaches RUNNING.
func (o *Orchestrator) Init(ctx context.Context) error {
	cfg := o.opts.Config
	if cfg == nil {
		loaded, err := config.Load(o.opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return err
	}

	comps, err := Assemble(ctx, cfg, AssembleOptions{
		Version:       o.opts.Version,
		ClientFactory: o.opts.ClientFactory,
		Clock:         o.now,
	})
	if err != nil {
		return err
	}

	if err := o.registerTasks(cfg); err != nil {
		_ = comps.Close()
		return configError("daemon.schedules", err)
	}
	o.cfg.Store(cfg)
	o.comps.Store(comps)

	if err := o.startHealth(cfg); err != nil {
		_ = comps.Close()
		return configError("daemon.health_check", err)
	}

	o.refreshSchedule(o.now())
	o.logger.Info().
		Str("cache_backend", cfg.DB.Type).
		Strs("policy_types", cfg.Daemon.PolicyTypes).
		Msg("daemon initialized")
	return nil
}

// Run drives the main loop until ctx ends, a shutdown is requested or the
// process receives SIGINT or SIGTERM. SIGHUP reloads the configuration.
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg := o.cfg.Load()
	if cfg == nil {
		return errors.New("daemon is not initialized")
	}
	o.state.SetLifecycle(Running)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	o.setWatch(cfg.Daemon.WatchConfig)

	if o.opts.Immediate {
		o.dispatch(func(ctx context.Context) {
			if err := o.fetchAndGrade(ctx); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("immediate run failed")
			}
			o.refreshSchedule(o.now())
		})
	}

	ticker := time.NewTicker(cfg.Daemon.CheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.shutdown("context done")
		case sig := <-sigs:
			if sig == syscall.SIGHUP {
				o.handleReload(ticker)
				continue
			}
			return o.shutdown(sig.String())
		case msg := <-o.control:
			switch msg {
			case msgReload:
				o.handleReload(ticker)
			case msgShutdown:
				return o.shutdown("requested")
			}
		case <-ticker.C:
			o.tick(o.now())
		}
	}
}

// Reload asks the loop to re-read the configuration.
func (o *Orchestrator) Reload() {
	o.send(msgReload)
}

// Shutdown asks the loop to stop. Run returns once shutdown completes.
func (o *Orchestrator) Shutdown() {
	o.send(msgShutdown)
}

func (o *Orchestrator) send(msg message) {
	select {
	case o.control <- msg:
	default:
		o.logger.Warn().Int("message", int(msg)).Msg("control channel full, dropping message")
	}
}

func (o *Orchestrator) State() Snapshot {
	return o.state.Snapshot()
}

// HealthAddr is the bound health server address, or "" when disabled.
func (o *Orchestrator) HealthAddr() string {
	if h := o.health.Load(); h != nil {
		return h.Addr()
	}
	return ""
}

// tick hands the due tasks to a worker. It returns false when the previous
// tick is still running and this one is dropped.
func (o *Orchestrator) tick(now time.Time) bool {
	return o.dispatch(func(ctx context.Context) {
		for _, out := range o.sched.CheckAndRunTasks(ctx, now) {
			event := zerolog.Ctx(ctx).Info()
			if out.Err != nil {
				event = zerolog.Ctx(ctx).Error().Err(out.Err)
			}
			event.Str("task", out.Name).
				Bool("skipped", out.Skipped).
				Dur("duration", out.Duration).
				Msg("task finished")
		}
		o.refreshSchedule(o.now())
	})
}

func (o *Orchestrator) dispatch(job func(ctx context.Context)) bool {
	if !o.busy.CompareAndSwap(false, true) {
		o.logger.Debug().Msg("previous tick still running, dropping tick")
		return false
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer o.busy.Store(false)
		job(o.hardCtx)
	}()
	return true
}

func (o *Orchestrator) registerTasks(cfg *config.Config) error {
	s := cfg.Daemon.Schedules
	if err := o.sched.AddTask(TaskFetchAndGrade, s.FetchAndGrade, o.fetchAndGrade); err != nil {
		return err
	}
	if err := o.sched.AddTask(TaskCleanup, s.Cleanup, o.cleanup); err != nil {
		return err
	}
	return o.sched.AddTask(TaskMetrics, s.Metrics, o.writeMetrics)
}

func (o *Orchestrator) refreshSchedule(now time.Time) {
	next, _ := o.sched.NextRun(TaskFetchAndGrade, now)
	o.state.SetSchedule(next, o.sched.Interval(TaskFetchAndGrade, now))
}

// fetchAndGrade runs one audit pass. A run drained by shutdown is not
// counted; one cut short by the hard deadline is a failure.
func (o *Orchestrator) fetchAndGrade(ctx context.Context) error {
	o.running.Store(true)
	res, err := o.comps.Load().Runner.Run(ctx, o.drain)
	if !o.running.CompareAndSwap(true, false) {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("abandoned run returned after shutdown")
		return errGraceExpired
	}
	if errors.Is(err, audit.ErrInterrupted) && ctx.Err() == nil {
		zerolog.Ctx(ctx).Info().Msg("run drained before completion")
		return err
	}
	o.state.RecordRun(res, err, o.now())
	return err
}

func (o *Orchestrator) cleanup(ctx context.Context) error {
	comps := o.comps.Load()
	cfg := o.cfg.Load()
	logger := zerolog.Ctx(ctx)

	removed, err := comps.Writer.Cleanup(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply report retention: %w", err)
	}

	after := cfg.Cache.SweepAfter()
	if after <= 0 {
		return nil
	}
	swept, err := comps.Store.Sweep(ctx, o.now().Add(-after))
	if err != nil {
		return fmt.Errorf("failed to sweep cache: %w", err)
	}
	logger.Info().Int("reports_removed", removed).Int("entries_swept", swept).Msg("cleanup finished")
	return nil
}

func (o *Orchestrator) writeMetrics(ctx context.Context) error {
	report := &api.MetricsReport{MetricsResponse: o.Metrics(o.now())}
	path, err := o.comps.Load().Writer.Write(ctx, "", report)
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("path", path).Msg("metrics report written")
	return nil
}

func (o *Orchestrator) shutdown(reason string) error {
	o.logger.Info().Str("reason", reason).Msg("shutting down")
	o.state.SetLifecycle(ShuttingDown)
	close(o.drain)
	o.setWatch(false)

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	var errs []error
	grace := o.cfg.Load().Daemon.ShutdownGrace()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		o.logger.Warn().Dur("grace", grace).Msg("grace period expired, cancelling running tasks")
		o.hardCancel()
		if err := o.abandon(done); err != nil {
			errs = append(errs, err)
		}
	}
	o.hardCancel()

	if err := o.comps.Load().Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close cache store: %w", err))
	}
	if err := o.stopHealth(); err != nil {
		errs = append(errs, err)
	}
	o.state.SetLifecycle(Stopped)
	o.logger.Info().Msg("daemon stopped")
	return errors.Join(errs...)
}

// abandon waits a bounded time for cancelled tasks to return. A run still
// in flight afterwards is recorded as failed and left behind.
func (o *Orchestrator) abandon(done <-chan struct{}) error {
	wait := time.NewTimer(o.abandonAfter)
	defer wait.Stop()
	select {
	case <-done:
		return nil
	case <-wait.C:
	}

	o.logger.Error().Dur("waited", o.abandonAfter).Msg("running task ignored cancellation, abandoning it")
	if o.running.CompareAndSwap(true, false) {
		o.state.RecordRun(nil, errGraceExpired, o.now())
	}
	return errGraceExpired
}

func (o *Orchestrator) startHealth(cfg *config.Config) error {
	hc := cfg.Daemon.HealthCheck
	if !hc.Enabled {
		return nil
	}
	srv, err := server.New(o.logger, server.Config{
		Addr:         net.JoinHostPort(hc.Host, strconv.Itoa(hc.Port)),
		Dependencies: server.Dependencies{Status: o},
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	o.health.Store(srv)
	return nil
}

func (o *Orchestrator) stopHealth() error {
	h := o.health.Swap(nil)
	if h == nil {
		return nil
	}
	if err := h.Stop(context.Background()); err != nil {
		return fmt.Errorf("failed to stop health server: %w", err)
	}
	return nil
}

func (o *Orchestrator) setWatch(enabled bool) {
	switch {
	case enabled && o.watcher == nil && o.opts.ConfigPath != "":
		w, err := watchConfig(o.opts.ConfigPath, o.Reload, o.logger)
		if err != nil {
			o.logger.Warn().Err(err).Msg("config watcher not started")
			return
		}
		o.watcher = w
	case !enabled && o.watcher != nil:
		o.watcher.Close()
		o.watcher = nil
	}
}

func (o *Orchestrator) thresholds() Thresholds {
	hc := o.cfg.Load().Daemon.HealthCheck
	return Thresholds{
		DegradedAfter:  hc.DegradedAfter,
		UnhealthyAfter: hc.UnhealthyAfter,
		StaleFactor:    hc.StaleFactor,
	}
}

func (o *Orchestrator) Health(now time.Time) api.HealthResponse {
	return api.HealthResponse{
		Status:        api.StatusAlive,
		Timestamp:     now.UTC(),
		UptimeSeconds: o.state.Snapshot().Uptime(now).Seconds(),
	}
}

func (o *Orchestrator) Ready(now time.Time) api.ReadyResponse {
	snap := o.state.Snapshot()
	return api.ReadyResponse{
		Status:              snap.Readiness(now, o.thresholds()),
		Timestamp:           now.UTC(),
		LastSuccessfulRun:   adapters.TimePtr(snap.LastSuccess),
		LastFailedRun:       adapters.TimePtr(snap.LastFailure),
		NextScheduledRun:    adapters.TimePtr(snap.NextRun),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		ErrorMessage:        snap.LastError,
	}
}

func (o *Orchestrator) Metrics(now time.Time) api.MetricsResponse {
	snap := o.state.Snapshot()
	resp := api.MetricsResponse{
		State:         string(snap.Lifecycle),
		Timestamp:     now.UTC(),
		UptimeSeconds: snap.Uptime(now).Seconds(),
		Runs:          snap.Counters,
		Tasks:         adapters.MapTaskStatusesToApi(o.sched.Tasks(now)),
	}
	if comps := o.comps.Load(); comps != nil {
		resp.RateLimiter = adapters.MapLimiterStatsToApi(comps.Limiter.Stats())
	}
	return resp
}
