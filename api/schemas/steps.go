package schemas

// ActionType is the kind of interaction a scenario step asks for.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionSelect   ActionType = "select"
	ActionCheck    ActionType = "check"
	ActionNavigate ActionType = "navigate"
	ActionVerify   ActionType = "verify"
	ActionWait     ActionType = "wait"
	ActionUnknown  ActionType = "unknown"
)

// ParseActionType maps a free-form string onto a known ActionType, returning
// ActionUnknown for anything it does not recognize.
func ParseActionType(s string) ActionType {
	switch ActionType(s) {
	case ActionClick, ActionFill, ActionSelect, ActionCheck,
		ActionNavigate, ActionVerify, ActionWait:
		return ActionType(s)
	}
	return ActionUnknown
}

// IsExecutable reports whether the action changes page state. verify and wait
// steps are observed, not performed.
func (a ActionType) IsExecutable() bool {
	switch a {
	case ActionVerify, ActionWait:
		return false
	}
	return true
}

// TakesValue reports whether the action carries a value (typed text, an
// option label) in addition to its target.
func (a ActionType) TakesValue() bool {
	return a == ActionFill || a == ActionSelect
}

// ActionStep is a single natural-language instruction within a scenario.
type ActionStep struct {
	StepNumber  int        `json:"step_number" yaml:"step_number"`
	Description string     `json:"description" yaml:"description"`
	ActionType  ActionType `json:"action_type" yaml:"action_type"`
	// LiteralValue holds the first quoted substring of Description.
	LiteralValue string `json:"literal_value,omitempty" yaml:"literal_value,omitempty"`
	HasLiteral   bool   `json:"has_literal" yaml:"has_literal"`
}

// Scenario is an ordered list of steps executed against one page.
type Scenario struct {
	Name     string       `json:"name" yaml:"name"`
	StartURL string       `json:"start_url" yaml:"start_url"`
	Steps    []ActionStep `json:"steps" yaml:"steps"`
}

// ProjectContext scopes learned patterns to a project.
type ProjectContext struct {
	ProjectID string `json:"project_id" yaml:"project_id"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}
