package oracle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/llmutil"
	"github.com/xkilldash9x/locus/internal/observability"
)

const visionSystemPrompt = `You locate one element on a screenshot of a web page.
Answer with a single JSON object and nothing else:
{"found": true|false, "x": <pixel x of the element's center>, "y": <pixel y of the element's center>, "confidence": 0-100, "description": "<what you found>"}
Coordinates are pixels of the image you were given, origin at the top left.
If the element is not visible, answer {"found": false, "confidence": 0}.`

type visionAnswer struct {
	Found       bool    `json:"found"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// VisionOracle locates elements on screenshots with a multimodal model.
type VisionOracle struct {
	client schemas.LLMClient
	opts   Options
	log    *zap.Logger
}

func NewVisionOracle(client schemas.LLMClient, logger *zap.Logger, opts Options) *VisionOracle {
	return &VisionOracle{
		client: client,
		opts:   opts.withDefaults(),
		log:    observability.OrNop(logger).Named("vision_oracle"),
	}
}

// Locate asks the backend where goal is on shot. The returned coordinates are
// image pixels; a point outside the image is reported as not found.
func (o *VisionOracle) Locate(ctx context.Context, shot schemas.Screenshot, goal string) (*schemas.VisionResult, error) {
	if o.client == nil {
		return nil, schemas.ErrOracleUnavailable
	}
	if len(shot.Data) == 0 {
		return nil, fmt.Errorf("vision oracle: empty screenshot")
	}
	mime := shot.MIMEType
	if mime == "" {
		mime = "image/png"
	}

	callCtx, cancel, err := throttle(ctx, o.opts, o.log)
	if err != nil {
		return nil, fmt.Errorf("vision oracle: %w", err)
	}
	defer cancel()

	started := time.Now()
	raw, err := o.client.Generate(callCtx, schemas.GenerationRequest{
		SystemPrompt: visionSystemPrompt,
		UserPrompt:   fmt.Sprintf("Image size: %dx%d pixels.\nFind: %s", shot.Width, shot.Height, goal),
		Images:       []schemas.ImagePart{{MIMEType: mime, Data: shot.Data}},
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	o.opts.Metrics.ObserveOracleCall("vision", started, err)
	if err != nil {
		return nil, fmt.Errorf("vision oracle call: %w", err)
	}

	ans, err := llmutil.ParseJSONResponse[visionAnswer](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", schemas.ErrOracleParse, err)
	}

	res := &schemas.VisionResult{
		Found:       ans.Found,
		Coordinates: schemas.Position{X: ans.X, Y: ans.Y},
		Confidence:  clampConfidence(ans.Confidence),
		Description: ans.Description,
	}
	if res.Found && !inBounds(shot, ans.X, ans.Y) {
		o.log.Warn("Vision coordinates outside screenshot",
			zap.Float64("x", ans.X), zap.Float64("y", ans.Y),
			zap.Int("width", shot.Width), zap.Int("height", shot.Height))
		res.Found = false
	}
	o.log.Debug("Vision oracle result",
		zap.String("goal", goal),
		zap.Bool("found", res.Found),
		zap.Int("confidence", res.Confidence))
	return res, nil
}

// inBounds treats unknown dimensions as unbounded.
func inBounds(shot schemas.Screenshot, x, y float64) bool {
	if x < 0 || y < 0 {
		return false
	}
	if shot.Width > 0 && x > float64(shot.Width) {
		return false
	}
	if shot.Height > 0 && y > float64(shot.Height) {
		return false
	}
	return true
}

// AcceptVision checks a vision result against threshold.
func AcceptVision(res *schemas.VisionResult, threshold int) error {
	if res == nil || !res.Found {
		return schemas.ErrVisionNotFound
	}
	if res.Confidence < threshold {
		return fmt.Errorf("%w: %d < %d", schemas.ErrVisionLowConfidence, res.Confidence, threshold)
	}
	return nil
}
