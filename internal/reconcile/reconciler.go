// Package reconcile keeps tagged firewall access rules in step with the
// current addresses of configured dynamic-DNS hostnames.
//
// A pass runs under an exclusive lock:
//
//	lock -> load cache -> resolve -> list -> diff -> add -> remove -> persist -> unlock
//
// Every rule in the plan is added before any rule is removed, and a single
// failed add ends the pass with nothing removed. A hostname that fails to
// resolve keeps every live rule on its port. Crash recovery is a plain re-run:
// adds and removes are idempotent and the live rule set is listed fresh each
// pass, so the cache is only consulted for diagnostics and carry-forward.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"grimm.is/ddnsfw/internal/clock"
	"grimm.is/ddnsfw/internal/config"
	"grimm.is/ddnsfw/internal/firewall"
	"grimm.is/ddnsfw/internal/lock"
	"grimm.is/ddnsfw/internal/logging"
	"grimm.is/ddnsfw/internal/metrics"
	"grimm.is/ddnsfw/internal/resolver"
	"grimm.is/ddnsfw/internal/state"
)

// IterationCap bounds every per-pass loop over rules.
const IterationCap = 200

// Outcome is the terminal state of a pass.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"           // changes applied, cache written
	OutcomeNoop        Outcome = "noop"         // nothing to change, cache refreshed
	OutcomeDryRun      Outcome = "dry_run"      // plan computed, nothing touched
	OutcomeBusy        Outcome = "busy"         // another pass holds the lock
	OutcomePartial     Outcome = "partial"      // stopped or degraded, access preserved
	OutcomeConfigError Outcome = "config_error" // rejected before any activity
	OutcomeError       Outcome = "error"        // firewall unusable
)

// Options configures a Reconciler.
type Options struct {
	Adapter  firewall.Adapter
	Resolver resolver.Resolver

	CachePath   string
	LockPath    string
	LockTimeout time.Duration

	// ResolveTimeout bounds each hostname lookup. Default 10s.
	ResolveTimeout time.Duration

	// MaxRules is the ceiling on distinct live tagged rules. Default 100.
	MaxRules int

	// DryRun stops after the diff.
	DryRun bool

	History     *state.History    // optional run journal
	HistoryKeep int               // journal rows kept after each pass
	Metrics     *metrics.Registry // optional

	Clock    clock.Clock
	Logger   *logging.Logger
	NewRunID func() string
}

// Result describes a finished pass.
type Result struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Outcome  Outcome       `json:"outcome" yaml:"outcome"`
	Started  time.Time     `json:"started" yaml:"started"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	LockWait time.Duration `json:"lock_wait" yaml:"lock_wait"`

	Entries []EntryResult `json:"entries" yaml:"entries"`
	Plan    *Plan         `json:"plan,omitempty" yaml:"plan,omitempty"`

	Added        []firewall.Rule `json:"added" yaml:"added"`
	Removed      []firewall.Rule `json:"removed" yaml:"removed"`
	RemoveErrors []*RemoveError  `json:"-" yaml:"-"`

	// Generation is the cache generation written by this pass, or the
	// previous generation when nothing was written.
	Generation uint64 `json:"generation" yaml:"generation"`

	// Diagnostics are signs that an earlier pass did not finish cleanly.
	Diagnostics []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`

	// Err holds every error that shaped the outcome.
	Err error `json:"-" yaml:"-"`
}

// Unresolved returns the entries that failed to resolve.
func (r *Result) Unresolved() []EntryResult {
	var out []EntryResult
	for _, e := range r.Entries {
		if !e.Resolved() {
			out = append(out, e)
		}
	}
	return out
}

func (r *Result) fail(o Outcome, err error) {
	r.Outcome = o
	r.Err = errors.Join(r.Err, err)
}

// Reconciler runs passes.
type Reconciler struct {
	opts  Options
	clock clock.Clock
	log   *logging.Logger
}

// New validates opts and fills defaults.
func New(opts Options) (*Reconciler, error) {
	if opts.Adapter == nil {
		return nil, errors.New("reconcile: firewall adapter is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("reconcile: resolver is required")
	}
	if opts.LockPath == "" {
		return nil, errors.New("reconcile: lock path is required")
	}
	if opts.CachePath == "" {
		return nil, errors.New("reconcile: cache path is required")
	}
	if opts.MaxRules <= 0 {
		opts.MaxRules = config.DefaultMaxRules
	}
	if opts.LockTimeout < 0 {
		opts.LockTimeout = config.DefaultLockTimeout
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = config.DefaultResolverTimeout
	}
	if opts.HistoryKeep <= 0 {
		opts.HistoryKeep = config.DefaultHistoryKeep
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	return &Reconciler{
		opts:  opts,
		clock: clock.OrReal(opts.Clock),
		log:   logger.WithComponent("reconcile"),
	}, nil
}

// Run executes one pass over entries. It always returns a Result; Outcome and
// Err describe how the pass ended.
func (r *Reconciler) Run(ctx context.Context, entries []config.Entry) *Result {
	res := &Result{
		RunID:   r.opts.NewRunID(),
		Started: r.clock.Now(),
		Added:   []firewall.Rule{},
		Removed: []firewall.Rule{},
	}
	log := r.log.WithFields(map[string]any{"run_id": res.RunID})
	defer r.report(res, log)

	if len(entries) == 0 {
		res.fail(OutcomeConfigError, config.ErrNoEntries)
		return res
	}
	if len(entries) > config.MaxEntries {
		res.fail(OutcomeConfigError, fmt.Errorf("%w: %d entries, limit is %d", ErrConfigLimit, len(entries), config.MaxEntries))
		return res
	}

	lockStart := r.clock.Now()
	lk, err := lock.Acquire(ctx, r.opts.LockPath, r.opts.LockTimeout)
	res.LockWait = r.clock.Since(lockStart)
	r.opts.Metrics.ObserveLockWait(res.LockWait)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			res.fail(OutcomeBusy, err)
		} else {
			res.fail(OutcomeError, fmt.Errorf("acquire lock: %w", err))
		}
		return res
	}
	defer func() {
		if err := lk.Release(); err != nil {
			log.Warn("failed to release lock", "error", err)
		}
	}()

	r.beginJournal(ctx, res, log)
	defer r.finishJournal(res, log)

	r.pass(ctx, entries, res, log)
	return res
}

// pass runs everything between lock acquisition and release.
func (r *Reconciler) pass(ctx context.Context, entries []config.Entry, res *Result, log *logging.Logger) {
	cache := r.loadCache(log)
	res.Generation = cache.Generation

	res.Entries = r.resolveAll(ctx, entries, cache, log)

	live, err := r.opts.Adapter.ListTagged(ctx)
	if err != nil {
		outcome := OutcomeError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomePartial
		}
		res.fail(outcome, fmt.Errorf("%w: %w", ErrList, err))
		return
	}
	if len(live) > IterationCap {
		res.fail(OutcomePartial, fmt.Errorf("%w: %d tagged rules listed, cap is %d", ErrIterationCap, len(live), IterationCap))
		return
	}

	plan := buildPlan(live, res.Entries)
	res.Plan = plan
	r.opts.Metrics.ObservePlan(len(plan.Actual), len(plan.Desired), len(plan.Preserved))
	r.diagnoseCache(cache, plan, res, log)

	for _, p := range plan.Preserved {
		log.Warn("preserving rule for unresolved entry", "rule", p.String())
	}
	log.Info("plan computed",
		"live", len(plan.Actual),
		"desired", len(plan.Desired),
		"add", len(plan.ToAdd),
		"remove", len(plan.ToRemove),
		"preserved", len(plan.Preserved))

	if r.opts.DryRun {
		res.Outcome = OutcomeDryRun
		return
	}

	if n := plan.Operations(); n > IterationCap {
		res.fail(OutcomePartial, fmt.Errorf("%w: plan has %d operations, cap is %d", ErrIterationCap, n, IterationCap))
		return
	}
	if len(plan.ToAdd) > 0 && plan.PeakRules() > r.opts.MaxRules {
		res.fail(OutcomePartial, fmt.Errorf("%w: %d rules would be live, limit is %d", ErrRuleCeiling, plan.PeakRules(), r.opts.MaxRules))
		return
	}

	if err := ctx.Err(); err != nil {
		res.fail(OutcomePartial, fmt.Errorf("cancelled before applying changes: %w", err))
		return
	}

	// Mutations are not interrupted once started.
	mctx := context.WithoutCancel(ctx)

	if !r.applyAdds(mctx, plan, res, log) {
		return
	}
	r.applyRemoves(mctx, plan, res, log)

	next := r.nextCache(cache, res)
	if err := state.SaveCache(r.opts.CachePath, next); err != nil {
		log.Error("failed to write cache", "path", r.opts.CachePath, "error", err)
		res.fail(OutcomePartial, fmt.Errorf("%w: %w", ErrCacheWrite, err))
		return
	}
	res.Generation = next.Generation
	r.opts.Metrics.ObserveCache(next.Generation)

	switch {
	case len(res.RemoveErrors) > 0:
		res.Outcome = OutcomePartial
	case plan.Empty():
		res.Outcome = OutcomeNoop
	default:
		res.Outcome = OutcomeOK
	}
}

func (r *Reconciler) loadCache(log *logging.Logger) *state.Cache {
	if n, err := state.CleanupTemp(r.opts.CachePath); err != nil {
		log.Warn("failed to remove stale cache temp files", "error", err)
	} else if n > 0 {
		log.Warn("removed stale cache temp files from an interrupted write", "count", n)
	}

	cache, err := state.LoadCache(r.opts.CachePath)
	if err != nil {
		log.Warn("ignoring unreadable cache", "path", r.opts.CachePath, "error", err)
	}
	return cache
}

// resolveAll resolves every entry in order. Each distinct hostname is looked
// up once per pass.
func (r *Reconciler) resolveAll(ctx context.Context, entries []config.Entry, cache *state.Cache, log *logging.Logger) []EntryResult {
	type answer struct {
		ip  netip.Addr
		err error
	}
	answers := make(map[string]answer, len(entries))
	results := make([]EntryResult, 0, len(entries))
	var reasons []string

	for _, e := range entries {
		a, ok := answers[e.Hostname]
		if !ok {
			a.ip, a.err = r.resolve(ctx, e.Hostname)
			answers[e.Hostname] = a
		}

		er := EntryResult{Entry: e}
		if last, ok := cache.Lookup(e.Hostname, e.Port); ok {
			er.LastKnown = last
		}
		if a.err != nil {
			er.Err = a.err
			er.Reason = resolver.ReasonOf(a.err)
			reasons = append(reasons, string(er.Reason))
			log.Warn("resolution failed, keeping existing access",
				"entry", e.String(), "reason", er.Reason, "error", a.err)
		} else {
			er.IP = a.ip
			log.Debug("resolved", "entry", e.String(), "ip", a.ip.String())
		}
		results = append(results, er)
	}

	r.opts.Metrics.ObserveResolution(len(entries), reasons)
	return results
}

func (r *Reconciler) resolve(ctx context.Context, host string) (netip.Addr, error) {
	rctx, cancel := context.WithTimeout(ctx, r.opts.ResolveTimeout)
	defer cancel()

	ip, err := r.opts.Resolver.Resolve(rctx, host)
	if err != nil {
		return netip.Addr{}, err
	}
	if !ip.Is4() {
		return netip.Addr{}, &resolver.ResolutionError{Host: host, Reason: resolver.ReasonNoRecord,
			Err: fmt.Errorf("%s is not an IPv4 address", ip)}
	}
	return ip, nil
}

// applyAdds adds every planned rule in order and reports whether all of them
// succeeded.
func (r *Reconciler) applyAdds(ctx context.Context, plan *Plan, res *Result, log *logging.Logger) bool {
	for _, rule := range plan.ToAdd {
		err := r.opts.Adapter.Add(ctx, rule)
		r.opts.Metrics.ObserveOperation("add", err)
		if err != nil {
			log.Error("add failed, skipping all removals this pass", "rule", rule.String(), "error", err)
			res.fail(OutcomePartial, &AddError{Rule: rule, Err: err})
			return false
		}
		log.Info("rule added", "rule", rule.String())
		res.Added = append(res.Added, rule)
	}
	return true
}

func (r *Reconciler) applyRemoves(ctx context.Context, plan *Plan, res *Result, log *logging.Logger) {
	for _, rule := range plan.ToRemove {
		err := r.opts.Adapter.Remove(ctx, rule)
		r.opts.Metrics.ObserveOperation("remove", err)
		if err != nil {
			log.Error("remove failed, stale rule left in place", "rule", rule.String(), "error", err)
			re := &RemoveError{Rule: rule, Err: err}
			res.RemoveErrors = append(res.RemoveErrors, re)
			res.Err = errors.Join(res.Err, re)
			continue
		}
		log.Info("rule removed", "rule", rule.String())
		res.Removed = append(res.Removed, rule)
	}
}

// nextCache builds the snapshot for this pass: resolved entries at their new
// address, unresolved entries carried forward at their last-known address.
func (r *Reconciler) nextCache(prev *state.Cache, res *Result) *state.Cache {
	next := &state.Cache{
		Version:    state.CacheVersion,
		Generation: prev.Generation + 1,
		RunID:      res.RunID,
		UpdatedAt:  r.clock.Now().UTC(),
		Entries:    []state.CacheEntry{},
	}
	seen := make(map[string]bool, len(res.Entries))
	for _, e := range res.Entries {
		key := e.Entry.Key()
		if seen[key] {
			continue
		}
		switch {
		case e.Resolved():
			next.Entries = append(next.Entries, state.CacheEntry{Hostname: e.Entry.Hostname, Port: e.Entry.Port, IP: e.IP})
		case e.LastKnown.Is4():
			next.Entries = append(next.Entries, state.CacheEntry{Hostname: e.Entry.Hostname, Port: e.Entry.Port, IP: e.LastKnown, Carried: true})
		default:
			continue
		}
		seen[key] = true
	}
	return next
}

// diagnoseCache logs cached grants that are no longer live. It only reports;
// the plan is already computed from the live listing.
func (r *Reconciler) diagnoseCache(cache *state.Cache, plan *Plan, res *Result, log *logging.Logger) {
	actual := firewall.NewRuleSet(plan.Actual...)
	for _, e := range cache.Entries {
		rule := firewall.Rule{IP: e.IP, Port: e.Port}
		if actual.Has(rule) {
			continue
		}
		msg := fmt.Sprintf("cached rule %s for %s is not live", rule, e.Key())
		res.Diagnostics = append(res.Diagnostics, msg)
		log.Warn("cached rule missing from firewall; a previous pass may have been interrupted or the rule was removed externally",
			"rule", rule.String(), "entry", e.Key(), "generation", cache.Generation)
	}
}

func (r *Reconciler) beginJournal(ctx context.Context, res *Result, log *logging.Logger) {
	h := r.opts.History
	if h == nil {
		return
	}
	stale, err := h.Unfinished(ctx, res.RunID)
	if err != nil {
		log.Warn("failed to read run journal", "error", err)
	}
	if len(stale) > 0 {
		ids := make([]string, 0, len(stale))
		for _, s := range stale {
			ids = append(ids, s.ID)
			msg := fmt.Sprintf("pass %s started %s never finished", s.ID, s.StartedAt.Format(time.RFC3339))
			res.Diagnostics = append(res.Diagnostics, msg)
			log.Warn("previous pass did not finish; converging from live state", "previous_run", s.ID, "started", s.StartedAt)
		}
		if err := h.MarkAbandoned(ctx, ids); err != nil {
			log.Warn("failed to update run journal", "error", err)
		}
	}
	if err := h.BeginRun(ctx, res.RunID, r.opts.DryRun); err != nil {
		log.Warn("failed to record pass start", "error", err)
	}
}

func (r *Reconciler) finishJournal(res *Result, log *logging.Logger) {
	h := r.opts.History
	if h == nil {
		return
	}
	ctx := context.Background()
	summary := state.RunSummary{
		Outcome:      string(res.Outcome),
		Entries:      len(res.Entries),
		Unresolved:   len(res.Unresolved()),
		Added:        len(res.Added),
		Removed:      len(res.Removed),
		RemoveFailed: len(res.RemoveErrors),
		Generation:   res.Generation,
	}
	if res.Err != nil {
		summary.Error = res.Err.Error()
	}
	if err := h.FinishRun(ctx, res.RunID, summary); err != nil {
		log.Warn("failed to record pass end", "error", err)
		return
	}
	if n, err := h.Prune(ctx, r.opts.HistoryKeep); err != nil {
		log.Warn("failed to prune run journal", "error", err)
	} else if n > 0 {
		log.Debug("pruned run journal", "rows", n)
	}
}

// report logs the pass summary and records metrics.
func (r *Reconciler) report(res *Result, log *logging.Logger) {
	res.Duration = r.clock.Since(res.Started)

	success := res.Outcome == OutcomeOK || res.Outcome == OutcomeNoop
	r.opts.Metrics.ObserveRun(string(res.Outcome), res.Started, res.Duration, success)

	args := []any{
		"outcome", string(res.Outcome),
		"added", len(res.Added),
		"removed", len(res.Removed),
		"unresolved", len(res.Unresolved()),
		"generation", res.Generation,
		"duration", res.Duration.Round(time.Millisecond).String(),
	}
	switch res.Outcome {
	case OutcomeOK, OutcomeNoop, OutcomeDryRun:
		log.Info("pass complete", args...)
	case OutcomeBusy:
		log.Warn("another pass is running, skipping this cycle", append(args, "error", res.Err)...)
	default:
		log.Error("pass ended early", append(args, "error", res.Err)...)
	}
}
