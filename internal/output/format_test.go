package output

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/crimson-sun/stepwise/internal/engine/compactor"
	"github.com/crimson-sun/stepwise/internal/model"
)

func baseNotification() model.Notification {
	return model.Notification{
		Type:      model.NotifyWorkflowUpdate,
		Timestamp: 1700000000000,
		Workflow: &model.Workflow{
			Name:        "Recorded Workflow",
			Version:     "1.0.0",
			InputSchema: []model.InputField{},
			Steps: []model.Step{{
				Type:       model.StepClick,
				Timestamp:  1700000000000,
				TabID:      1,
				URL:        "https://example.com/",
				Target:     &model.Target{XPath: "/html/body[1]/button[1]", CSSSelector: "button", ElementText: "Go"},
				Screenshot: "data:image/jpeg;base64,AAAA",
			}},
		},
	}
}

func TestFormatNotificationMinimal(t *testing.T) {
	in := baseNotification()
	n := FormatNotification(in, compactor.Minimal)

	if n.Workflow.Steps[0].Screenshot != "" {
		t.Fatal("Screenshot should be empty at Minimal")
	}
	if n.Workflow.Steps[0].ElementText != "Go" {
		t.Fatal("ElementText should be preserved")
	}
	if in.Workflow.Steps[0].Screenshot == "" {
		t.Fatal("input notification must not be mutated")
	}
}

func TestFormatNotificationStandard(t *testing.T) {
	n := FormatNotification(baseNotification(), compactor.Standard)
	if n.Workflow.Steps[0].Screenshot == "" {
		t.Fatal("Screenshot should be preserved at Standard")
	}
}

func TestFormatNotificationLifecycle(t *testing.T) {
	in := model.Notification{Type: model.NotifyRecordingStopped, Message: "Recording has stopped"}
	n := FormatNotification(in, compactor.Minimal)
	if n.Message != in.Message || n.Workflow != nil {
		t.Fatalf("lifecycle notification should pass through, got %+v", n)
	}
}

func TestFormatNotificationMinimalJSONOmitsScreenshot(t *testing.T) {
	n := FormatNotification(baseNotification(), compactor.Minimal)
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "screenshot") {
		t.Fatalf("screenshot key should be omitted, got %s", data)
	}
}
