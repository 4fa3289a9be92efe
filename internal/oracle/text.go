package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/lexicon"
	"github.com/xkilldash9x/locus/internal/llmutil"
	"github.com/xkilldash9x/locus/internal/observability"
	"github.com/xkilldash9x/locus/internal/snapshot"
	"github.com/xkilldash9x/locus/internal/steps"
)

const textSystemPrompt = `You map one step of a web UI test to one element of the current page.
You receive the step and a JSON array of the page's visible interactive elements.
Each element has a "ref". Answer with a single JSON object and nothing else:
{"targetRef": "<ref or null>", "actionType": "click|fill|select|check|navigate", "value": "<text to enter, if any>", "confidence": 0-100, "reason": "<short>"}
Rules:
- Prefer an element whose visible text matches the step's target exactly.
- Elements with "inModal": true are inside a dialog. Prefer elements outside dialogs unless the step mentions a popup, modal or dialog.
- If the step navigates to another page and needs no element, answer {"targetRef": null, "actionType": "navigate", "confidence": 100}.
- Switching a tab or section within the same page is a click on that tab.
- If no element fits, answer with "targetRef": null and a low confidence.
- Only use refs that appear in the list.`

// textAnswer is the JSON object the backend is asked for.
type textAnswer struct {
	TargetRef  *string `json:"targetRef"`
	ActionType string  `json:"actionType"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// TextOracle asks an LLM to choose the element a step refers to.
type TextOracle struct {
	client schemas.LLMClient
	lex    *lexicon.Lexicon
	opts   Options
	log    *zap.Logger
}

// NewTextOracle returns an oracle over client. A nil client yields an oracle
// whose element decisions fail with ErrOracleUnavailable.
func NewTextOracle(client schemas.LLMClient, lex *lexicon.Lexicon, logger *zap.Logger, opts Options) *TextOracle {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &TextOracle{
		client: client,
		lex:    lex,
		opts:   opts.withDefaults(),
		log:    observability.OrNop(logger).Named("text_oracle"),
	}
}

// Decide returns the oracle's decision for step against snap. A decision with
// no target means nothing fits, or the step navigates without an element.
func (o *TextOracle) Decide(ctx context.Context, snap *snapshot.Snapshot, step schemas.ActionStep) (*schemas.ResolutionDecision, error) {
	if step.ActionType == schemas.ActionNavigate {
		if u, ok := steps.ExtractURL(step.Description); ok {
			return navigateDecision("step names the URL " + u), nil
		}
	}
	if o.client == nil {
		return nil, schemas.ErrOracleUnavailable
	}

	candidates := snap.Elements
	modalOnly := o.lex.MentionsModal(step.Description)
	if modalOnly {
		candidates = snap.InModal()
		if len(candidates) == 0 {
			return o.noTarget(step, "step refers to a dialog but none is open"), nil
		}
	}
	view, err := snapshot.OracleView(candidates, o.opts.MaxElements)
	if err != nil {
		return nil, err
	}

	callCtx, cancel, err := throttle(ctx, o.opts, o.log)
	if err != nil {
		return nil, fmt.Errorf("text oracle: %w", err)
	}
	defer cancel()

	started := time.Now()
	raw, err := o.client.Generate(callCtx, schemas.GenerationRequest{
		SystemPrompt: textSystemPrompt,
		UserPrompt:   fmt.Sprintf("Step: %s\nElements: %s", step.Description, view),
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	o.opts.Metrics.ObserveOracleCall("text", started, err)
	if err != nil {
		return nil, fmt.Errorf("text oracle call: %w", err)
	}

	ans, err := llmutil.ParseJSONResponse[textAnswer](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrOracleParse, err)
	}
	d := o.normalize(step, *ans, candidates, modalOnly)
	o.log.Debug("Text oracle decision",
		zap.Int("step", step.StepNumber),
		zap.Stringp("target", d.TargetRef),
		zap.String("action", string(d.ActionType)),
		zap.Int("confidence", d.Confidence),
		zap.String("reason", d.Reason),
	)
	return d, nil
}

func (o *TextOracle) normalize(step schemas.ActionStep, ans textAnswer, candidates []schemas.InteractableElement, modalOnly bool) *schemas.ResolutionDecision {
	action := schemas.ParseActionType(strings.ToLower(strings.TrimSpace(ans.ActionType)))
	if action == schemas.ActionNavigate && o.lex.MentionsTab(step.Description) {
		action = schemas.ActionClick
	}
	if action == schemas.ActionNavigate {
		return navigateDecision(ans.Reason)
	}
	if action == schemas.ActionUnknown || !action.IsExecutable() {
		action = step.ActionType
	}
	if action == schemas.ActionUnknown || action == "" {
		action = schemas.ActionClick
	}

	d := &schemas.ResolutionDecision{
		ActionType: action,
		Value:      ans.Value,
		Confidence: clampConfidence(ans.Confidence),
		Reason:     ans.Reason,
	}
	if d.Value == "" && action.TakesValue() {
		d.Value = step.LiteralValue
	}

	if ans.TargetRef == nil || *ans.TargetRef == "" {
		d.Confidence = 0
		return d
	}
	ref := *ans.TargetRef
	if !containsRef(candidates, ref) {
		reason := fmt.Sprintf("backend chose unknown ref %q", ref)
		if modalOnly {
			reason = fmt.Sprintf("backend chose %q outside the open dialog", ref)
		}
		o.log.Warn("Discarding oracle target", zap.String("ref", ref), zap.String("reason", reason))
		return o.noTarget(step, reason)
	}
	d.TargetRef = &ref
	return d
}

func (o *TextOracle) noTarget(step schemas.ActionStep, reason string) *schemas.ResolutionDecision {
	action := step.ActionType
	if action == schemas.ActionUnknown || action == "" {
		action = schemas.ActionClick
	}
	return &schemas.ResolutionDecision{ActionType: action, Reason: reason}
}

func navigateDecision(reason string) *schemas.ResolutionDecision {
	return &schemas.ResolutionDecision{ActionType: schemas.ActionNavigate, Confidence: 100, Reason: reason}
}

func containsRef(elements []schemas.InteractableElement, ref string) bool {
	for _, e := range elements {
		if e.CorrelationID == ref {
			return true
		}
	}
	return false
}
