// Package discovery maps the steps of a natural-language scenario to durable
// locators by resolving and executing them one at a time against a live page.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/actions"
	"github.com/xkilldash9x/locus/internal/heuristic"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/locator"
	"github.com/xkilldash9x/locus/internal/memory"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/oracle"
	"github.com/xkilldash9x/locus/internal/snapshot"
	"github.com/xkilldash9x/locus/internal/steps"
)

const flowDiscovery = "discovery"

// TextOracle chooses the element a step refers to.
type TextOracle interface {
	Decide(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep) (*schemas.ResolutionDecision, error)
}

// VisionOracle finds an element on a screenshot.
type VisionOracle interface {
	Locate(ctx context.Context, shot schemas.Screenshot, goal string) (*schemas.VisionResult, error)
}

// PatternMemory recalls previously learned locators.
type PatternMemory interface {
	Retrieve(ctx context.Context, q memory.Query) (*memory.Match, error)
}

// Options tunes the executor.
type Options struct {
	// Threshold is the minimum confidence accepted from the oracle, vision and
	// heuristic fallback tiers.
	Threshold int
	// HeuristicAccept lets a heuristic result this strong skip the oracle.
	HeuristicAccept   int
	SettleDelay       time.Duration
	VisibilityTimeout time.Duration
	// StepTimeout bounds everything one step does, including oracle calls.
	StepTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 30
	}
	if o.HeuristicAccept <= 0 {
		o.HeuristicAccept = 100
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 2 * time.Second
	}
	if o.StepTimeout <= 0 {
		o.StepTimeout = 2 * time.Minute
	}
	return o
}

// Dependencies are the collaborators of an Executor. Text, Vision and Memory
// may be nil; the corresponding tier then always fails.
type Dependencies struct {
	Extractor *snapshot.Extractor
	Matcher   *heuristic.Matcher
	Lexicon   *lexicon.Lexicon
	Text      TextOracle
	Vision    VisionOracle
	Memory    PatternMemory
	Sink      memory.Sink
	Metrics   *observability.Metrics
}

// Executor runs discovery. It keeps no per-run state and may serve several
// scenarios concurrently, each on its own page.
type Executor struct {
	deps Dependencies
	opts Options
	log  *zap.Logger
	now  func() time.Time
}

func NewExecutor(deps Dependencies, opts Options, logger *zap.Logger) *Executor {
	log := observability.OrNop(logger).Named("discovery")
	if deps.Lexicon == nil {
		deps.Lexicon = lexicon.Default()
	}
	if deps.Extractor == nil {
		deps.Extractor = snapshot.NewExtractor(log, 0)
	}
	if deps.Matcher == nil {
		deps.Matcher = heuristic.NewMatcher(deps.Lexicon)
	}
	if deps.Sink == nil {
		deps.Sink = memory.NopSink{}
	}
	return &Executor{deps: deps, opts: opts.withDefaults(), log: log, now: time.Now}
}

// resolution is a step resolved to something executable.
type resolution struct {
	method       schemas.Method
	action       schemas.ActionType
	loc          schemas.Locator
	value        string
	confidence   int
	reason       string
	element      schemas.ElementDescriptor
	inModal      bool
	container    string
	alternatives []schemas.ElementCandidate
}

// run carries the state of one scenario.
type run struct {
	e       *Executor
	page    schemas.Page
	project schemas.ProjectContext
	report  *Report
	log     *zap.Logger
}

func (r *run) logf(step int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	r.report.ExecutionLog = append(r.report.ExecutionLog, LogEntry{Time: r.e.now(), StepNumber: step, Message: msg})
	r.log.Debug(msg, zap.Int("step", step))
}

// DiscoverElementsSequentially resolves and executes the scenario's steps in
// order and stops at the first step no tier can resolve. Cancellation of ctx
// is honored between steps only. The returned error is non-nil exactly when
// the report's state is Failed; the report is always returned.
func (e *Executor) DiscoverElementsSequentially(ctx context.Context, page schemas.Page, scenario schemas.Scenario, project schemas.ProjectContext) (*Report, error) {
	r := &run{
		e:       e,
		page:    page,
		project: project,
		report: &Report{
			Scenario:  scenario.Name,
			ProjectID: project.ProjectID,
			State:     StateCompleted,
			Mappings:  []Mapping{},
			Unmapped:  []UnmappedStep{},
			StartedAt: e.now(),
		},
		log: e.log.With(zap.String("scenario", scenario.Name), zap.String("project", project.ProjectID)),
	}
	r.log.Info("Starting discovery.", zap.Int("steps", len(scenario.Steps)))

	err := r.execute(ctx, scenario)
	if err != nil {
		r.report.State = StateFailed
		r.report.Error = err.Error()
		r.log.Error("Discovery failed.", zap.Error(err))
	}
	r.report.finish(e.now())
	r.log.Info("Discovery finished.",
		zap.String("state", string(r.report.State)),
		zap.Int("mapped", len(r.report.Mappings)),
		zap.Int("unmapped", len(r.report.Unmapped)),
		zap.Float64("confidence", r.report.OverallConfidence))
	return r.report, err
}

func (r *run) execute(ctx context.Context, scenario schemas.Scenario) error {
	if scenario.StartURL != "" {
		navCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.e.opts.StepTimeout)
		err := r.page.Navigate(navCtx, scenario.StartURL)
		cancel()
		if err != nil {
			return fmt.Errorf("opening start url: %w", err)
		}
		r.logf(0, "opened %s", scenario.StartURL)
	}

	normalized := steps.Normalize(r.e.deps.Lexicon, scenario.Steps)
	r.report.TotalSteps = len(normalized)
	for _, step := range normalized {
		if err := ctx.Err(); err != nil {
			r.logf(step.StepNumber, "canceled before step")
			return fmt.Errorf("canceled before step %d: %w", step.StepNumber, err)
		}
		halted, err := r.step(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d: %w", step.StepNumber, err)
		}
		if halted {
			r.report.State = StatePartiallyMappedAndHalted
			return nil
		}
	}
	return nil
}

// step handles one step. Page and adapter errors are returned; an
// unresolvable step is recorded and reported as halted.
func (r *run) step(parent context.Context, step schemas.ActionStep) (bool, error) {
	// In-flight work finishes even if the scenario is canceled meanwhile.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.e.opts.StepTimeout)
	defer cancel()

	if err := r.settle(ctx); err != nil {
		return false, err
	}

	if !step.ActionType.IsExecutable() {
		r.logf(step.StepNumber, "%s step is not executable, skipped", step.ActionType)
		return false, nil
	}
	if step.ActionType == schemas.ActionNavigate {
		if u, ok := steps.ExtractURL(step.Description); ok {
			if err := r.page.Navigate(ctx, u); err != nil {
				return false, err
			}
			r.logf(step.StepNumber, "navigated to %s", u)
			return false, nil
		}
	}

	snap, err := r.e.deps.Extractor.Extract(ctx, r.page)
	if err != nil {
		return false, err
	}
	r.logf(step.StepNumber, "extracted %d elements", len(snap.Elements))

	res, skip, failures := r.resolve(ctx, snap, step)
	if skip {
		r.logf(step.StepNumber, "page level navigation, no element needed")
		return false, nil
	}
	if res == nil {
		rerr := &schemas.ResolutionError{Failures: failures}
		r.unmapped(step, rerr.Error(), failures)
		return true, nil
	}

	if err := actions.Perform(ctx, r.page, res.action, res.loc, res.value); err != nil {
		failure := schemas.NewTierFailure(string(res.method), err)
		r.unmapped(step, fmt.Sprintf("resolved by %s but execution failed: %v", res.method, err), []schemas.TierFailure{failure})
		return true, nil
	}

	r.report.Mappings = append(r.report.Mappings, Mapping{
		StepNumber:   step.StepNumber,
		Description:  step.Description,
		ActionType:   res.action,
		Locator:      res.loc,
		Value:        res.value,
		Confidence:   res.confidence,
		Method:       res.method,
		Reason:       res.reason,
		Element:      res.element,
		IsInModal:    res.inModal,
		Alternatives: res.alternatives,
	})
	r.logf(step.StepNumber, "mapped by %s to %s (confidence %d)", res.method, res.loc, res.confidence)
	r.e.deps.Metrics.ObserveResolution(flowDiscovery, string(res.method), true)

	obs := actions.Observation{
		ProjectID:     r.project.ProjectID,
		ActionText:    step.Description,
		ActionType:    res.action,
		PageURL:       snap.URL,
		Locator:       res.loc,
		Element:       res.element,
		Confidence:    res.confidence,
		IsInModal:     res.inModal,
		ContainerRole: res.container,
	}
	r.e.deps.Sink.ObservePattern(ctx, obs.Event(flowDiscovery, res.method))
	return false, nil
}

func (r *run) unmapped(step schemas.ActionStep, reason string, failures []schemas.TierFailure) {
	r.report.Unmapped = append(r.report.Unmapped, UnmappedStep{
		StepNumber:  step.StepNumber,
		Description: step.Description,
		Reason:      reason,
		Failures:    failures,
	})
	r.logf(step.StepNumber, "unmapped, halting: %s", reason)
	r.e.deps.Metrics.ObserveResolution(flowDiscovery, "none", false)
}

func (r *run) settle(ctx context.Context) error {
	if err := r.page.WaitForLoad(ctx); err != nil {
		return fmt.Errorf("waiting for page load: %w", err)
	}
	if r.e.opts.SettleDelay == 0 {
		return nil
	}
	t := time.NewTimer(r.e.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve walks the tiers in order: heuristic, text oracle, memory, vision.
// skip reports a page level navigation that needs no element.
func (r *run) resolve(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep) (res *resolution, skip bool, failures []schemas.TierFailure) {
	opts := r.e.opts
	fail := func(tier schemas.Method, err error) {
		failures = append(failures, schemas.NewTierFailure(string(tier), err))
	}

	h := r.e.deps.Matcher.Match(step, snap.Elements)
	heuristicTried := false
	if h.Best != nil && h.Confidence >= opts.HeuristicAccept {
		heuristicTried = true
		hres, err := r.fromDecision(ctx, snap, step, h.Decision(step), schemas.MethodHeuristic)
		if err == nil {
			return hres, false, nil
		}
		fail(schemas.MethodHeuristic, err)
	}

	d, err := r.decide(ctx, snap, step)
	switch {
	case err != nil:
		fail(schemas.MethodAIOracle, err)
		// A candidate ranked on layout alone, with no word of the step
		// matching it, is never accepted as a fallback.
		if !heuristicTried && h.Best != nil && h.Confidence >= opts.Threshold &&
			r.e.deps.Matcher.Relevance(step, h.Best.InteractableElement) > 0 {
			hres, ferr := r.fromDecision(ctx, snap, step, h.Decision(step), schemas.MethodHeuristic)
			if ferr == nil {
				hres.reason = "oracle failed, heuristic fallback: " + hres.reason
				return hres, false, nil
			}
			fail(schemas.MethodHeuristic, ferr)
		}
	case d.ActionType == schemas.ActionNavigate && !d.HasTarget():
		return nil, true, nil
	case !d.HasTarget():
		fail(schemas.MethodAIOracle, fmt.Errorf("%w: %s", schemas.ErrElementNotFound, d.Reason))
	case d.Confidence < opts.Threshold:
		fail(schemas.MethodAIOracle, fmt.Errorf("%w: %d < %d", schemas.ErrLowConfidence, d.Confidence, opts.Threshold))
	default:
		if len(d.Alternatives) == 0 {
			d.Alternatives = h.Alternatives
		}
		ores, ferr := r.fromDecision(ctx, snap, step, d, schemas.MethodAIOracle)
		if ferr == nil {
			return ores, false, nil
		}
		fail(schemas.MethodAIOracle, ferr)
	}

	res, err = r.fromMemory(ctx, snap, step)
	if err == nil {
		return res, false, nil
	}
	fail(schemas.MethodMemoryCached, err)

	res, err = r.fromVision(ctx, step)
	if err == nil {
		return res, false, nil
	}
	fail(schemas.MethodVisionAI, err)
	return nil, false, failures
}

func (r *run) decide(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep) (*schemas.ResolutionDecision, error) {
	if r.e.deps.Text == nil {
		return nil, schemas.ErrOracleUnavailable
	}
	d, err := r.e.deps.Text.Decide(ctx, snap, step)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: empty decision", schemas.ErrOracleParse)
	}
	return d, nil
}

// fromDecision turns a decision naming an element of snap into a durable
// locator. The handle must still belong to the page's current pass.
func (r *run) fromDecision(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep, d *schemas.ResolutionDecision, method schemas.Method) (*resolution, error) {
	ref := *d.TargetRef
	el, ok := snap.Lookup(ref)
	if !ok {
		return nil, fmt.Errorf("ref %s: %w", ref, schemas.ErrElementNotFound)
	}
	identity, err := r.page.Describe(ctx, snap.Ref(ref))
	if err != nil {
		return nil, err
	}
	loc, err := locator.Materialize(identity)
	if err != nil {
		return nil, err
	}
	action := executableAction(d.ActionType, step.ActionType)
	value := d.Value
	if value == "" && action.TakesValue() {
		value = step.LiteralValue
	}
	return &resolution{
		method:       method,
		action:       action,
		loc:          loc,
		value:        value,
		confidence:   d.Confidence,
		reason:       d.Reason,
		element:      actions.Descriptor(el),
		inModal:      el.IsInModal,
		container:    el.ContainerRole,
		alternatives: d.Alternatives,
	}, nil
}

func (r *run) fromMemory(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep) (*resolution, error) {
	if r.e.deps.Memory == nil {
		return nil, schemas.ErrMemoryMiss
	}
	m, err := r.e.deps.Memory.Retrieve(ctx, memory.Query{
		ProjectID:  r.project.ProjectID,
		ActionText: step.Description,
		URLPattern: locator.HostOf(snap.URL),
		IsInModal:  r.e.deps.Lexicon.MentionsModal(step.Description),
	})
	if err != nil {
		return nil, err
	}
	if m == nil || m.Pattern.LocatorKind == schemas.LocatorVisionCoordinates {
		return nil, schemas.ErrMemoryMiss
	}

	loc := m.Pattern.Locator()
	visible, err := r.page.IsVisible(ctx, loc, r.e.opts.VisibilityTimeout)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("cached %s: %w", loc, schemas.ErrElementNotVisible)
	}
	action := executableAction(step.ActionType, m.Pattern.ActionType)
	value := ""
	if action.TakesValue() {
		value = step.LiteralValue
	}
	return &resolution{
		method:     schemas.MethodMemoryCached,
		action:     action,
		loc:        loc,
		value:      value,
		confidence: m.Pattern.Confidence,
		reason:     fmt.Sprintf("%s memory match, similarity %.2f", m.Tier, m.Similarity),
		element:    m.Pattern.ElementDescriptor,
		inModal:    m.Pattern.IsInModal,
		container:  m.Pattern.ContainerRole,
	}, nil
}

func (r *run) fromVision(ctx context.Context, step schemas.ActionStep) (*resolution, error) {
	if r.e.deps.Vision == nil {
		return nil, schemas.ErrOracleUnavailable
	}
	shot, err := r.page.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	vr, err := r.e.deps.Vision.Locate(ctx, shot, step.Description)
	if err != nil {
		return nil, err
	}
	if err := oracle.AcceptVision(vr, r.e.opts.Threshold); err != nil {
		return nil, err
	}
	x, y := locator.ToViewport(vr.Coordinates.X, vr.Coordinates.Y, shot.Scale)
	action := executableAction(step.ActionType, schemas.ActionClick)
	value := ""
	if action.TakesValue() {
		value = step.LiteralValue
	}
	return &resolution{
		method:     schemas.MethodVisionAI,
		action:     action,
		loc:        locator.Coordinates(x, y),
		value:      value,
		confidence: vr.Confidence,
		reason:     vr.Description,
		element:    schemas.ElementDescriptor{Text: vr.Description},
		inModal:    r.e.deps.Lexicon.MentionsModal(step.Description),
	}, nil
}

// executableAction returns the first candidate that acts on an element,
// defaulting to click.
func executableAction(candidates ...schemas.ActionType) schemas.ActionType {
	for _, a := range candidates {
		switch a {
		case "", schemas.ActionUnknown, schemas.ActionNavigate, schemas.ActionVerify, schemas.ActionWait:
			continue
		}
		return a
	}
	return schemas.ActionClick
}
