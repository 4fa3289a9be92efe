package schemas

// LocatorKind names the strategy a durable locator uses.
type LocatorKind string

const (
	LocatorTestID            LocatorKind = "testid"
	LocatorID                LocatorKind = "id"
	LocatorName              LocatorKind = "name"
	LocatorText              LocatorKind = "text"
	LocatorCSS               LocatorKind = "css"
	LocatorVisionCoordinates LocatorKind = "vision-coordinates"
)

// Locator is a durable reference to an element. For every kind except
// vision-coordinates Selector is a CSS selector or, for text locators, the
// exact visible text. Vision locators encode "x,y" in viewport CSS pixels.
type Locator struct {
	Kind     LocatorKind `json:"kind"`
	Selector string      `json:"selector"`
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Selector == "" }

func (l Locator) String() string { return string(l.Kind) + "=" + l.Selector }

// Method records which resolution tier produced a result.
type Method string

const (
	MethodDirect       Method = "direct"
	MethodMemoryCached Method = "memory-cached"
	MethodVisionAI     Method = "vision-ai"
	MethodHeuristic    Method = "heuristic"
	MethodAIOracle     Method = "ai-oracle"
)

// ResolutionDecision is a text oracle's (or heuristic's) answer for a step.
// A nil TargetRef means nothing matched, or the step is page level navigation.
type ResolutionDecision struct {
	TargetRef    *string            `json:"targetRef"`
	ActionType   ActionType         `json:"actionType"`
	Value        string             `json:"value,omitempty"`
	Confidence   int                `json:"confidence"`
	Reason       string             `json:"reason"`
	Alternatives []ElementCandidate `json:"alternatives,omitempty"`
}

// HasTarget reports whether the decision names an element.
func (d *ResolutionDecision) HasTarget() bool {
	return d != nil && d.TargetRef != nil && *d.TargetRef != ""
}

// VisionResult is the vision oracle's answer. Coordinates are in screenshot
// image pixels.
type VisionResult struct {
	Found       bool     `json:"found"`
	Coordinates Position `json:"coordinates"`
	Confidence  int      `json:"confidence"`
	Description string   `json:"description"`
}
