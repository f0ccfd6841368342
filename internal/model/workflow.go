package model

// Workflow is the replayable result of a recording session.
type Workflow struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Version     string       `json:"version"`
	InputSchema []InputField `json:"input_schema"`
	Steps       []Step       `json:"steps"`
}

// InputField declares a runtime parameter of a workflow.
type InputField struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string, number, bool
	Required bool   `json:"required"`
}

// Clone returns a deep copy of w.
func (w Workflow) Clone() Workflow {
	w.InputSchema = append([]InputField(nil), w.InputSchema...)
	if w.InputSchema == nil {
		w.InputSchema = []InputField{}
	}
	steps := make([]Step, len(w.Steps))
	for i, s := range w.Steps {
		steps[i] = s.Clone()
	}
	w.Steps = steps
	return w
}
