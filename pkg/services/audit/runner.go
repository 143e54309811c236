package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/falcon"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/grading"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/api"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/store/cache"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrInterrupted is returned when a shutdown request stops a run between
	// units of work. Nothing partial is written to the cache.
	ErrInterrupted = errors.New("audit run interrupted")
	// ErrDegraded marks a run that completed with stale data or per-entity
	// errors.
	ErrDegraded = errors.New("audit run completed with errors")
)

type ReportWriter interface {
	Write(ctx context.Context, runID string, report api.Report) (string, error)
}

type Settings struct {
	Tenant      string
	PolicyTypes []domain.PolicyType
	Filter      falcon.HostFilter
	TTL         cache.TTLPolicy
	// ZeroTrust attaches zero trust assessment scores to host views.
	ZeroTrust   bool
}

type Dependencies struct {
	Client    falcon.Client
	Store     cache.Store
	Limiter   *ratelimit.Limiter
	Standards map[domain.PolicyType]*grading.Standard
	// Writer is optional; without it no reports are persisted.
	Writer ReportWriter
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func WithRunID(newID func() string) Option {
	return func(r *Runner) { r.newRunID = newID }
}

// Runner executes audit passes. It keeps no state between runs, so one
// Runner may serve many sequential runs.
type Runner struct {
	deps     Dependencies
	settings Settings
	now      func() time.Time
	newRunID func() string
}

func NewRunner(deps Dependencies, settings Settings, opts ...Option) (*Runner, error) {
	if deps.Client == nil || deps.Store == nil || deps.Limiter == nil {
		return nil, fmt.Errorf("audit runner requires a client, a store and a limiter")
	}
	for _, t := range settings.PolicyTypes {
		if deps.Standards[t] == nil {
			return nil, fmt.Errorf("no grading standard loaded for %s", t)
		}
	}
	r := &Runner{
		deps:     deps,
		settings: settings,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run fetches hosts, zero trust scores and policies (from cache while
// fresh), grades every policy, rolls results up per host and writes reports. A non-nil error
// with a populated Result means the run finished degraded.
func (r *Runner) Run(ctx context.Context, stop <-chan struct{}) (*Result, error) {
	res := r.newResult()
	logger := zerolog.Ctx(ctx).With().Str("run_id", res.RunID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("starting fetch and grade run")

	snap := domain.Snapshot{Policies: map[domain.PolicyType][]domain.PolicyRecord{}}

	hostsKey := r.key(cache.EntityHosts, hostsKeyID(r.settings.Filter))
	hosts, err := fetch(ctx, r, stop, res, hostsKey, func(ctx context.Context, cursor string) (falcon.Page[domain.HostRecord], error) {
		return r.deps.Client.ListHosts(ctx, r.settings.Filter, cursor)
	}, nil)
	if errors.Is(err, ErrInterrupted) {
		return r.finish(res), err
	}
	snap.Hosts = hosts

	if r.settings.ZeroTrust && len(hosts) > 0 {
		ids := deviceIDs(hosts)
		assessments, err := fetch(ctx, r, stop, res, r.zeroTrustKey(), func(ctx context.Context, cursor string) (falcon.Page[domain.ZeroTrustAssessment], error) {
			return r.deps.Client.ListZeroTrustAssessments(ctx, ids, cursor)
		}, nil)
		if errors.Is(err, ErrInterrupted) {
			return r.finish(res), err
		}
		snap.ZeroTrust = domain.IndexAssessments(assessments)
	}

	for _, t := range r.settings.PolicyTypes {
		policies, err := fetch(ctx, r, stop, res, r.key(cache.EntityPolicies, string(t)), func(ctx context.Context, cursor string) (falcon.Page[domain.PolicyRecord], error) {
			return r.deps.Client.ListPolicies(ctx, t, cursor)
		}, nil)
		if errors.Is(err, ErrInterrupted) {
			return r.finish(res), err
		}
		if err != nil {
			continue
		}
		if t == domain.PolicyTypeFirewall && len(policies) > 0 {
			policies, err = r.withContainers(ctx, stop, res, policies)
			if errors.Is(err, ErrInterrupted) {
				return r.finish(res), err
			}
		}
		snap.Policies[t] = policies
	}

	return r.evaluate(ctx, stop, res, snap)
}

// Regrade grades the cached raw records with the current standards. It
// makes no API calls; stale entries are used as they are.
func (r *Runner) Regrade(ctx context.Context, stop <-chan struct{}) (*Result, error) {
	res := r.newResult()
	logger := zerolog.Ctx(ctx).With().Str("run_id", res.RunID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("regrading cached records")

	snap := domain.Snapshot{Policies: map[domain.PolicyType][]domain.PolicyRecord{}}

	if err := r.readCached(ctx, r.key(cache.EntityHosts, hostsKeyID(r.settings.Filter)), &snap.Hosts); err != nil {
		res.recordError(cache.EntityHosts, err)
	}
	snap.ZeroTrust = r.cachedAssessments(ctx)
	for _, t := range r.settings.PolicyTypes {
		var policies []domain.PolicyRecord
		if err := r.readCached(ctx, r.key(cache.EntityPolicies, string(t)), &policies); err != nil {
			res.recordError(string(t), err)
			continue
		}
		if t == domain.PolicyTypeFirewall && len(policies) > 0 {
			var containers []domain.PolicyContainer
			if err := r.readCached(ctx, r.containersKey(), &containers); err != nil {
				res.recordError(cache.EntityRuleGroups, err)
			}
			policies = mergeContainers(policies, containers)
		}
		snap.Policies[t] = policies
	}

	return r.evaluate(ctx, stop, res, snap)
}

// Load returns the last graded state from the cache without grading or
// writing anything. Types never graded are absent from Graded.
func (r *Runner) Load(ctx context.Context) (*Result, error) {
	res := r.newResult()
	var hosts []domain.HostRecord
	if err := r.readCached(ctx, r.key(cache.EntityHosts, hostsKeyID(r.settings.Filter)), &hosts); err != nil {
		res.recordError(cache.EntityHosts, err)
	}

	var batches [][]domain.PolicyGradeResult
	for _, t := range r.settings.PolicyTypes {
		var results []domain.PolicyGradeResult
		if err := r.readCached(ctx, r.key(cache.EntityGraded, string(t)), &results); err != nil {
			res.recordError(string(t), err)
			continue
		}
		res.Graded[t] = results
		batches = append(batches, results)
	}

	res.HostsProcessed = len(hosts)
	res.Hosts = grading.RollupAll(hosts, r.settings.PolicyTypes, grading.IndexResults(batches...))
	domain.AttachZeroTrust(res.Hosts, r.cachedAssessments(ctx))
	r.finish(res)
	if len(res.Graded) == 0 {
		return res, fmt.Errorf("nothing graded yet: %s", strings.Join(res.ErrorMessages(), "; "))
	}
	return res, nil
}

// withContainers merges the firewall containers of policies into their
// settings. The containers are cached as one unit under the rule group TTL.
// On failure the policies are returned unmerged.
func (r *Runner) withContainers(ctx context.Context, stop <-chan struct{}, res *Result, policies []domain.PolicyRecord) ([]domain.PolicyRecord, error) {
	ids := make([]string, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
	}
	covers := func(containers []domain.PolicyContainer) bool {
		have := make(map[string]bool, len(containers))
		for _, c := range containers {
			have[c.PolicyID] = true
		}
		for _, id := range ids {
			if !have[id] {
				return false
			}
		}
		return true
	}

	containers, err := fetch(ctx, r, stop, res, r.containersKey(), func(ctx context.Context, cursor string) (falcon.Page[domain.PolicyContainer], error) {
		return r.deps.Client.ListPolicyContainers(ctx, ids, cursor)
	}, covers)
	if err != nil {
		return policies, err
	}
	return mergeContainers(policies, containers), nil
}

func mergeContainers(policies []domain.PolicyRecord, containers []domain.PolicyContainer) []domain.PolicyRecord {
	if len(containers) == 0 {
		return policies
	}
	byID := make(map[string]domain.PolicyContainer, len(containers))
	for _, c := range containers {
		byID[c.PolicyID] = c
	}
	merged := make([]domain.PolicyRecord, len(policies))
	for i, p := range policies {
		if c, ok := byID[p.ID]; ok {
			p = p.WithContainer(c)
		}
		merged[i] = p
	}
	return merged
}

// cachedAssessments returns the cached zero trust scores, expired or not.
// They are informational, so a miss is not an error.
func (r *Runner) cachedAssessments(ctx context.Context) map[string]domain.ZeroTrustAssessment {
	if !r.settings.ZeroTrust {
		return nil
	}
	var assessments []domain.ZeroTrustAssessment
	if err := r.readCached(ctx, r.zeroTrustKey(), &assessments); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("no zero trust assessments")
		return nil
	}
	return domain.IndexAssessments(assessments)
}

func (r *Runner) zeroTrustKey() cache.Key {
	return r.key(cache.EntityZeroTrust, hostsKeyID(r.settings.Filter))
}

func (r *Runner) containersKey() cache.Key {
	return r.key(cache.EntityRuleGroups, string(domain.PolicyTypeFirewall))
}

func (r *Runner) readCached(ctx context.Context, key cache.Key, v any) error {
	lookup, err := cache.GetJSON(ctx, r.deps.Store, key, r.now(), v)
	if err != nil {
		return err
	}
	if !lookup.Found {
		return fmt.Errorf("no cached %s", key.EntityType)
	}
	return nil
}

func (r *Runner) evaluate(ctx context.Context, stop <-chan struct{}, res *Result, snap domain.Snapshot) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	res.HostsProcessed = len(snap.Hosts)

	var batches [][]domain.PolicyGradeResult
	for _, t := range r.settings.PolicyTypes {
		policies, ok := snap.Policies[t]
		if !ok {
			continue
		}
		if stopped(stop) {
			return r.finish(res), ErrInterrupted
		}

		results := grading.GradeAll(policies, r.deps.Standards[t])
		res.Graded[t] = results
		batches = append(batches, results)

		key := r.key(cache.EntityGraded, string(t))
		if err := cache.PutJSON(ctx, r.deps.Store, key, results, r.settings.TTL.For(cache.EntityGraded)); err != nil {
			res.recordError(key.EntityType+":"+string(t), err)
		}

		summary := grading.Summarize(results)
		logger.Info().
			Str("policy_type", string(t)).
			Int("total", summary.Total).
			Int("passed", summary.Passed).
			Float64("overall_score", summary.OverallScore).
			Msg("graded policies")
	}

	res.Hosts = grading.RollupAll(snap.Hosts, r.settings.PolicyTypes, grading.IndexResults(batches...))
	domain.AttachZeroTrust(res.Hosts, snap.ZeroTrust)

	if r.deps.Writer != nil {
		if stopped(stop) {
			return r.finish(res), ErrInterrupted
		}
		for _, report := range r.reports(res) {
			path, err := r.deps.Writer.Write(ctx, res.RunID, report)
			if err != nil {
				res.recordError("report:"+report.ReportType(), err)
				continue
			}
			res.Reports = append(res.Reports, path)
		}
	}

	r.finish(res)
	if res.Failed() {
		logger.Warn().Strs("errors", res.ErrorMessages()).Msg("run finished with errors")
		return res, fmt.Errorf("%w: %s", ErrDegraded, strings.Join(res.ErrorMessages(), "; "))
	}
	logger.Info().
		Int("hosts", res.HostsProcessed).
		Int("policies", res.PoliciesGraded()).
		Dur("duration", res.Duration()).
		Msg("run finished")
	return res, nil
}

func (r *Runner) newResult() *Result {
	return &Result{
		RunID:     r.newRunID(),
		StartedAt: r.now(),
		Graded:    map[domain.PolicyType][]domain.PolicyGradeResult{},
		Stale:     map[string]bool{},
		Errors:    map[string]error{},
	}
}

func (r *Runner) finish(res *Result) *Result {
	res.FinishedAt = r.now()
	return res
}

func (r *Runner) key(entityType, id string) cache.Key {
	return cache.Key{EntityType: entityType, EntityID: id, TenantID: r.settings.Tenant}
}

func deviceIDs(hosts []domain.HostRecord) []string {
	ids := make([]string, len(hosts))
	for i, h := range hosts {
		ids[i] = h.DeviceID
	}
	return ids
}

func hostsKeyID(f falcon.HostFilter) string {
	if len(f.ProductTypes) == 0 && len(f.Platforms) == 0 {
		return "all"
	}
	return strings.Join(f.ProductTypes, ",") + "|" + strings.Join(f.Platforms, ",")
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
