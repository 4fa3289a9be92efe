package schemas

// Category splits interactable elements into fields that accept input and
// elements that are activated.
type Category string

const (
	CategoryForm      Category = "form"
	CategoryClickable Category = "clickable"
)

// Position is a point in viewport CSS pixels.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RawElement is what the page accessor reports for one candidate node during an
// extraction pass, before any filtering or normalization.
type RawElement struct {
	Ref           string  `json:"ref"`
	Tag           string  `json:"tag"`
	Type          string  `json:"type"`
	Role          string  `json:"role"`
	InnerText     string  `json:"innerText"`
	LabelText     string  `json:"labelText"`
	Placeholder   string  `json:"placeholder"`
	AriaLabel     string  `json:"ariaLabel"`
	Name          string  `json:"name"`
	DomID         string  `json:"id"`
	TestID        string  `json:"testId"`
	ClassName     string  `json:"className"`
	Href          string  `json:"href"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Display       string  `json:"display"`
	Visibility    string  `json:"visibility"`
	Opacity       float64 `json:"opacity"`
	InViewport    bool    `json:"inViewport"`
	InModal       bool    `json:"inModal"`
	ContainerRole string  `json:"containerRole"`
	Disabled      bool    `json:"disabled"`
}

// InteractableElement is a visible, normalized element from one extraction
// pass. CorrelationID is only meaningful within the pass that produced it.
type InteractableElement struct {
	CorrelationID string   `json:"ref"`
	Tag           string   `json:"tag"`
	RoleOrType    string   `json:"role,omitempty"`
	VisibleText   string   `json:"text,omitempty"`
	TestID        string   `json:"testId,omitempty"`
	DomID         string   `json:"id,omitempty"`
	Name          string   `json:"name,omitempty"`
	AriaLabel     string   `json:"ariaLabel,omitempty"`
	Placeholder   string   `json:"placeholder,omitempty"`
	LabelText     string   `json:"label,omitempty"`
	ClassName     string   `json:"class,omitempty"`
	IsInViewport  bool     `json:"inViewport"`
	IsInModal     bool     `json:"inModal"`
	ContainerRole string   `json:"containerRole,omitempty"`
	Position      Position `json:"position"`
	Category      Category `json:"category"`
}

// ElementCandidate is an element scored against a particular step.
type ElementCandidate struct {
	InteractableElement
	Score      int        `json:"score"`
	ActionType ActionType `json:"actionType"`
}

// ElementRef is the opaque handle for an element found in an extraction pass.
// It is invalidated by re-extraction or navigation.
type ElementRef struct {
	PassID string `json:"pass_id"`
	ID     string `json:"id"`
}

// ElementIdentity is the set of durable attributes the page reports for an
// element handle, used to materialize a selector that outlives the pass.
type ElementIdentity struct {
	Tag            string `json:"tag"`
	TestID         string `json:"testId"`
	TestIDUnique   bool   `json:"testIdUnique"`
	DomID          string `json:"id"`
	DomIDUnique    bool   `json:"idUnique"`
	Name           string `json:"name"`
	NameUnique     bool   `json:"nameUnique"`
	Text           string `json:"text"`
	TextUnique     bool   `json:"textUnique"`
	AriaLabel      string `json:"ariaLabel"`
	StructuralPath string `json:"path"`
}

// Screenshot is a viewport capture. Scale is image pixels per CSS pixel.
type Screenshot struct {
	Data     []byte  `json:"-"`
	MIMEType string  `json:"mime_type"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Scale    float64 `json:"scale"`
}
