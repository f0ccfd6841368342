package merge

import "github.com/crimson-sun/stepwise/internal/model"

// Into folds ev into tail when the two describe the same ongoing action and
// reports whether it did. Consecutive inputs into one field collapse to the
// final value; consecutive scroll ticks on one target collapse to the final
// position. Every other kind always starts a new step.
func Into(tail *model.Step, ev model.RawEvent) bool {
	if tail == nil {
		return false
	}
	switch e := ev.(type) {
	case *model.InputRecord:
		if !sameInputTarget(tail, &e.EventBase) {
			return false
		}
		tail.InputData.Value = e.Value
		tail.Timestamp = e.Timestamp
		tail.Screenshot = e.Screenshot
		return true
	case *model.ScrollRecord:
		if tail.Type != model.StepScroll || tail.ScrollData == nil {
			return false
		}
		if tail.TabID != e.TabID || tail.ScrollData.TargetID != e.TargetID {
			return false
		}
		tail.ScrollData.ScrollX = e.ScrollX
		tail.ScrollData.ScrollY = e.ScrollY
		tail.Timestamp = e.Timestamp
		return true
	default:
		return false
	}
}

func sameInputTarget(tail *model.Step, b *model.EventBase) bool {
	if tail.Type != model.StepInput || tail.Target == nil || tail.InputData == nil {
		return false
	}
	return tail.TabID == b.TabID &&
		tail.URL == b.URL &&
		tail.FrameURL == b.FrameURL &&
		tail.Target.XPath == b.XPath &&
		tail.Target.CSSSelector == b.CSSSelector &&
		tail.Target.ElementTag == b.ElementTag
}
