package model

// StepType is the discriminant of a workflow step.
type StepType string

const (
	StepNavigation   StepType = "navigation"
	StepClick        StepType = "click"
	StepInput        StepType = "input"
	StepSelectChange StepType = "select_change"
	StepKeyPress     StepType = "key_press"
	StepScroll       StepType = "scroll"
)

// Step is one normalized unit of recorded user action. Exactly the payload
// matching Type is non-nil; nil payloads are omitted from JSON.
type Step struct {
	Type        StepType `json:"type"`
	Timestamp   int64    `json:"timestamp"`
	TabID       int      `json:"tabId"`
	URL         string   `json:"url,omitempty"`
	FrameURL    string   `json:"frameUrl,omitempty"`
	Description string   `json:"description,omitempty"`
	Output      string   `json:"output,omitempty"`

	*Target
	*InputData
	*SelectData
	*KeyData
	*ScrollData

	Screenshot string `json:"screenshot,omitempty"`
}

// Target identifies the element an element-bound step acted on.
type Target struct {
	XPath       string `json:"xpath"`
	CSSSelector string `json:"cssSelector"`
	ElementTag  string `json:"elementTag,omitempty"`
	ElementText string `json:"elementText,omitempty"`
}

// InputData is the payload of an input step.
type InputData struct {
	Value string `json:"value"`
}

// SelectData is the payload of a select_change step.
type SelectData struct {
	SelectedText string `json:"selectedText"`
}

// KeyData is the payload of a key_press step.
type KeyData struct {
	Key string `json:"key"`
}

// ScrollData is the payload of a scroll step.
type ScrollData struct {
	TargetID int `json:"targetId"`
	ScrollX  int `json:"scrollX"`
	ScrollY  int `json:"scrollY"`
}

// Clone returns a copy of s that shares no payload pointers with it.
func (s Step) Clone() Step {
	if s.Target != nil {
		t := *s.Target
		s.Target = &t
	}
	if s.InputData != nil {
		d := *s.InputData
		s.InputData = &d
	}
	if s.SelectData != nil {
		d := *s.SelectData
		s.SelectData = &d
	}
	if s.KeyData != nil {
		d := *s.KeyData
		s.KeyData = &d
	}
	if s.ScrollData != nil {
		d := *s.ScrollData
		s.ScrollData = &d
	}
	return s
}
