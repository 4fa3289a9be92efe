// Package smart implements self-healing runtime actions. A caller names a
// target the way a test script would; when that target no longer works the
// actor falls back to remembered patterns and finally to the vision oracle.
package smart

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/actions"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/locator"
	"github.com/xkilldash9x/locus/internal/memory"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/oracle"
)

const flowRuntime = "runtime"

// VisionOracle finds an element on a screenshot.
type VisionOracle interface {
	Locate(ctx context.Context, shot schemas.Screenshot, goal string) (*schemas.VisionResult, error)
}

// PatternMemory recalls previously learned locators by their exact key.
type PatternMemory interface {
	RetrieveExact(ctx context.Context, q memory.Query) (*memory.Match, error)
}

// Options configures an Actor.
type Options struct {
	ProjectID string
	// VisionThreshold is the minimum vision confidence acted upon.
	VisionThreshold int
	// DirectTimeout bounds the visibility check of the caller's target and of
	// a remembered locator.
	DirectTimeout time.Duration
	// WaitTimeout bounds SmartWaitFor's direct check.
	WaitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.VisionThreshold <= 0 {
		o.VisionThreshold = 50
	}
	if o.DirectTimeout <= 0 {
		o.DirectTimeout = 2 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 10 * time.Second
	}
	return o
}

// Dependencies of an Actor. Memory and Vision may be nil.
type Dependencies struct {
	Memory  PatternMemory
	Vision  VisionOracle
	Sink    memory.Sink
	Lexicon *lexicon.Lexicon
	Metrics *observability.Metrics
}

// Outcome reports how a runtime action was carried out.
type Outcome struct {
	Success bool            `json:"success"`
	Method  schemas.Method  `json:"method,omitempty"`
	Message string          `json:"message"`
	Locator schemas.Locator `json:"locator"`
}

// Call describes one runtime action. Description is the human wording of the
// action ("click the checkout button"); it keys pattern memory and guides the
// vision oracle. When empty the target descriptor is used.
type Call struct {
	Description string
	// NoFallback stops after the direct attempt: memory and vision are not
	// consulted and nothing is healed.
	NoFallback bool
}

// Actor is safe for concurrent use as long as each call uses its own page.
type Actor struct {
	deps Dependencies
	opts Options
	log  *zap.Logger
}

func NewActor(deps Dependencies, opts Options, logger *zap.Logger) *Actor {
	if deps.Sink == nil {
		deps.Sink = memory.NopSink{}
	}
	if deps.Lexicon == nil {
		deps.Lexicon = lexicon.Default()
	}
	return &Actor{deps: deps, opts: opts.withDefaults(), log: observability.OrNop(logger).Named("smart")}
}

// SmartClick clicks target, healing it if needed.
func (a *Actor) SmartClick(ctx context.Context, page schemas.Page, target string, call Call) (*Outcome, error) {
	return a.act(ctx, page, schemas.ActionClick, target, "", call)
}

// SmartFill types value into target, healing it if needed. Through the vision
// tier the field is clicked and the text typed at the focused element.
func (a *Actor) SmartFill(ctx context.Context, page schemas.Page, target, value string, call Call) (*Outcome, error) {
	return a.act(ctx, page, schemas.ActionFill, target, value, call)
}

// SmartWaitFor waits for target to become visible. Nothing is executed and
// nothing is learned; a healed wait only reports where the element was found.
func (a *Actor) SmartWaitFor(ctx context.Context, page schemas.Page, target string, call Call) (*Outcome, error) {
	desc := describe(target, call)
	log := a.log.With(zap.String("action", "wait"), zap.String("target", target))
	var failures []schemas.TierFailure

	loc, err := locator.ParseTarget(target)
	if err == nil {
		var ok bool
		ok, err = page.IsVisible(ctx, loc, a.opts.WaitTimeout)
		if err == nil && !ok {
			err = fmt.Errorf("%s: %w", loc, schemas.ErrElementNotVisible)
		}
		if err == nil {
			return a.succeed("wait", schemas.MethodDirect, loc, "target visible"), nil
		}
	}
	failures = append(failures, schemas.NewTierFailure(string(schemas.MethodDirect), err))
	log.Debug("Direct wait failed.", zap.Error(err))
	if call.NoFallback {
		return a.fail("wait", failures)
	}

	mloc, _, err := a.recall(ctx, page, desc)
	if err == nil {
		return a.succeed("wait", schemas.MethodMemoryCached, mloc, "remembered locator visible"), nil
	}
	failures = append(failures, schemas.NewTierFailure(string(schemas.MethodMemoryCached), err))

	vloc, vr, err := a.see(ctx, page, desc)
	if err == nil {
		return a.succeed("wait", schemas.MethodVisionAI, vloc, vr.Description), nil
	}
	failures = append(failures, schemas.NewTierFailure(string(schemas.MethodVisionAI), err))
	return a.fail("wait", failures)
}

func (a *Actor) act(ctx context.Context, page schemas.Page, action schemas.ActionType, target, value string, call Call) (*Outcome, error) {
	desc := describe(target, call)
	name := string(action)
	log := a.log.With(zap.String("action", name), zap.String("target", target))
	var failures []schemas.TierFailure

	// Direct.
	loc, err := locator.ParseTarget(target)
	if err == nil {
		err = a.tryLocator(ctx, page, action, loc, value)
		if err == nil {
			a.observe(ctx, page, action, desc, loc, 100, schemas.MethodDirect)
			return a.succeed(name, schemas.MethodDirect, loc, "target worked as given"), nil
		}
	}
	failures = append(failures, schemas.NewTierFailure(string(schemas.MethodDirect), err))
	if call.NoFallback {
		return a.fail(name, failures)
	}
	log.Info("Target failed, trying remembered patterns.", zap.Error(err))

	// Memory.
	mloc, match, err := a.recall(ctx, page, desc)
	if err == nil {
		err = actions.Perform(ctx, page, action, mloc, value)
		if err == nil {
			a.observe(ctx, page, action, desc, mloc, match.Pattern.Confidence, schemas.MethodMemoryCached)
			return a.succeed(name, schemas.MethodMemoryCached, mloc,
				fmt.Sprintf("healed from %s memory match", match.Tier)), nil
		}
	}
	failures = append(failures, schemas.NewTierFailure(string(schemas.MethodMemoryCached), err))
	log.Info("Memory could not heal target, trying vision.", zap.Error(err))

	// Vision.
	vloc, vr, err := a.see(ctx, page, desc)
	if err == nil {
		err = actions.Perform(ctx, page, action, vloc, value)
		if err == nil {
			a.observe(ctx, page, action, desc, vloc, vr.Confidence, schemas.MethodVisionAI)
			return a.succeed(name, schemas.MethodVisionAI, vloc, vr.Description), nil
		}
	}
	failures = append(failures, schemas.NewTierFailure(string(schemas.MethodVisionAI), err))
	return a.fail(name, failures)
}

func (a *Actor) tryLocator(ctx context.Context, page schemas.Page, action schemas.ActionType, loc schemas.Locator, value string) error {
	ok, err := page.IsVisible(ctx, loc, a.opts.DirectTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", loc, schemas.ErrElementNotVisible)
	}
	return actions.Perform(ctx, page, action, loc, value)
}

// recall returns the locator remembered for exactly desc on the page's host,
// provided it is visible right now.
func (a *Actor) recall(ctx context.Context, page schemas.Page, desc string) (schemas.Locator, *memory.Match, error) {
	if a.deps.Memory == nil {
		return schemas.Locator{}, nil, schemas.ErrMemoryMiss
	}
	pageURL, err := page.URL(ctx)
	if err != nil {
		return schemas.Locator{}, nil, err
	}
	match, err := a.deps.Memory.RetrieveExact(ctx, memory.Query{
		ProjectID:  a.opts.ProjectID,
		ActionText: desc,
		URLPattern: locator.HostOf(pageURL),
		IsInModal:  a.deps.Lexicon.MentionsModal(desc),
	})
	if err != nil {
		return schemas.Locator{}, nil, err
	}
	if match == nil {
		return schemas.Locator{}, nil, schemas.ErrMemoryMiss
	}
	loc := match.Pattern.Locator()
	ok, err := page.IsVisible(ctx, loc, a.opts.DirectTimeout)
	if err != nil {
		return schemas.Locator{}, nil, err
	}
	if !ok {
		return schemas.Locator{}, nil, fmt.Errorf("remembered %s: %w", loc, schemas.ErrElementNotVisible)
	}
	return loc, match, nil
}

// see asks the vision oracle for desc on a fresh screenshot.
func (a *Actor) see(ctx context.Context, page schemas.Page, desc string) (schemas.Locator, *schemas.VisionResult, error) {
	if a.deps.Vision == nil {
		return schemas.Locator{}, nil, schemas.ErrOracleUnavailable
	}
	shot, err := page.Screenshot(ctx)
	if err != nil {
		return schemas.Locator{}, nil, err
	}
	vr, err := a.deps.Vision.Locate(ctx, shot, desc)
	if err != nil {
		return schemas.Locator{}, nil, err
	}
	if err := oracle.AcceptVision(vr, a.opts.VisionThreshold); err != nil {
		return schemas.Locator{}, nil, err
	}
	x, y := locator.ToViewport(vr.Coordinates.X, vr.Coordinates.Y, shot.Scale)
	return locator.Coordinates(x, y), vr, nil
}

func (a *Actor) observe(ctx context.Context, page schemas.Page, action schemas.ActionType, desc string, loc schemas.Locator, confidence int, method schemas.Method) {
	pageURL, err := page.URL(ctx)
	if err != nil {
		a.log.Warn("Could not read page url, pattern not recorded.", zap.Error(err))
		return
	}
	obs := actions.Observation{
		ProjectID:  a.opts.ProjectID,
		ActionText: desc,
		ActionType: action,
		PageURL:    pageURL,
		Locator:    loc,
		Confidence: confidence,
		IsInModal:  a.deps.Lexicon.MentionsModal(desc),
	}
	a.deps.Sink.ObservePattern(ctx, obs.Event(flowRuntime, method))
}

func (a *Actor) succeed(action string, method schemas.Method, loc schemas.Locator, msg string) *Outcome {
	a.deps.Metrics.ObserveResolution(flowRuntime, string(method), true)
	if method != schemas.MethodDirect {
		a.log.Info("Target healed.", zap.String("action", action), zap.String("method", string(method)), zap.Stringer("locator", loc))
	}
	return &Outcome{Success: true, Method: method, Message: msg, Locator: loc}
}

func (a *Actor) fail(action string, failures []schemas.TierFailure) (*Outcome, error) {
	a.deps.Metrics.ObserveResolution(flowRuntime, "none", false)
	rerr := &schemas.ResolutionError{Failures: failures}
	a.log.Warn("Runtime action failed at every tier.", zap.String("action", action), zap.Error(rerr))
	return &Outcome{Success: false, Message: rerr.Error()}, rerr
}

func describe(target string, call Call) string {
	if call.Description != "" {
		return call.Description
	}
	return target
}
