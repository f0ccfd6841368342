// Package export writes workflows as JSON or YAML documents.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/stepwise/internal/model"
)

// Format is a workflow document encoding.
type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat maps "json", "yaml" and "yml" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("export: unknown format %q", s)
	}
}

// Encode writes wf to w. YAML output keeps the JSON field names and order.
func Encode(w io.Writer, wf model.Workflow, f Format) error {
	if wf.InputSchema == nil {
		wf.InputSchema = []model.InputField{}
	}
	if wf.Steps == nil {
		wf.Steps = []model.Step{}
	}
	data, err := json.MarshalIndent(wf, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encode workflow: %w", err)
	}
	switch f {
	case JSON:
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	case YAML:
		return jsonToYAML(w, data)
	default:
		return fmt.Errorf("export: unknown format %q", f)
	}
}

// jsonToYAML re-encodes a JSON document in block style. JSON is valid YAML,
// so parsing it into a node tree preserves key order.
func jsonToYAML(w io.Writer, data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("export: yaml: %w", err)
	}
	plain(&doc)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("export: yaml: %w", err)
	}
	return enc.Close()
}

// plain drops the flow and quoting styles inherited from JSON.
func plain(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plain(c)
	}
}

// Decode reads a workflow document in format f.
func Decode(r io.Reader, f Format) (model.Workflow, error) {
	var wf model.Workflow
	data, err := io.ReadAll(r)
	if err != nil {
		return wf, fmt.Errorf("export: read: %w", err)
	}
	if f == YAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return wf, fmt.Errorf("export: yaml: %w", err)
		}
		if data, err = json.Marshal(v); err != nil {
			return wf, fmt.Errorf("export: yaml: %w", err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&wf); err != nil {
		return wf, fmt.Errorf("export: decode workflow: %w", err)
	}
	return wf, nil
}

// Filename is "<slug(name)>-<yyyymmdd-hhmmss>.workflow.<ext>".
func Filename(wf model.Workflow, at time.Time, f Format) string {
	name := Slug(wf.Name)
	if name == "" {
		name = "workflow"
	}
	return fmt.Sprintf("%s-%s.workflow.%s", name, at.UTC().Format("20060102-150405"), f)
}

// Slug lower-cases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// WriteFile encodes wf into dir on fs and returns the file path.
func WriteFile(fs afero.Fs, dir string, wf model.Workflow, f Format, at time.Time) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create %s: %w", dir, err)
	}
	p := filepath.Join(dir, Filename(wf, at, f))
	var buf bytes.Buffer
	if err := Encode(&buf, wf, f); err != nil {
		return "", err
	}
	if err := afero.WriteFile(fs, p, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("export: write %s: %w", p, err)
	}
	return p, nil
}
