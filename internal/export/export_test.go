package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/stepwise/internal/model"
)

func sample() model.Workflow {
	return model.Workflow{
		Name:        "Sign Up: new user",
		Description: "Recorded on Mon, 02 Jan 2006 15:04:05 UTC",
		Version:     "1.0.0",
		Steps: []model.Step{
			{Type: model.StepNavigation, Timestamp: 1, TabID: 3, URL: "https://example.com"},
			{
				Type: model.StepInput, Timestamp: 2, TabID: 3, URL: "https://example.com",
				Target:    &model.Target{XPath: `id("q")`, CSSSelector: `input[name="q"]`, ElementTag: "input"},
				InputData: &model.InputData{Value: "true"},
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": JSON, "json": JSON, "YAML": YAML, "yml": YAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("toml")
	assert.Error(t, err)
}

func TestYAMLKeepsFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sample(), YAML))
	out := buf.String()

	assert.Less(t, strings.Index(out, "name:"), strings.Index(out, "description:"))
	assert.Less(t, strings.Index(out, "version:"), strings.Index(out, "input_schema:"))
	assert.Contains(t, out, "input_schema: []")
	assert.True(t, strings.Contains(out, `value: "true"`) || strings.Contains(out, `value: 'true'`),
		"strings that look like booleans stay strings")
	assert.NotContains(t, out, "{")
}

func TestRoundTripBothFormats(t *testing.T) {
	for _, f := range []Format{JSON, YAML} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, sample(), f))
		got, err := Decode(&buf, f)
		require.NoError(t, err, f)
		assert.Equal(t, sample().Steps, got.Steps, f)
		assert.Equal(t, "Sign Up: new user", got.Name, f)
	}
}

func TestEmptyWorkflowHasLists(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, model.Workflow{Name: "x"}, JSON))
	assert.Contains(t, buf.String(), `"steps": []`)
	assert.Contains(t, buf.String(), `"input_schema": []`)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "sign-up-new-user", Slug("Sign Up: new user"))
	assert.Equal(t, "a1-b", Slug("  a1 -- b!! "))
	assert.Equal(t, "", Slug("???"))
}

func TestWriteFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	p, err := WriteFile(fs, "out", sample(), YAML, at)
	require.NoError(t, err)
	assert.Equal(t, "out/sign-up-new-user-20260304-050607.workflow.yaml", p)

	data, err := afero.ReadFile(fs, p)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "name: 'Sign Up: new user'") ||
		strings.HasPrefix(string(data), `name: "Sign Up: new user"`))

	assert.Equal(t, "workflow-20260304-050607.workflow.json", Filename(model.Workflow{}, at, JSON))
}
