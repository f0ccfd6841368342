package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/crimson-sun/stepwise/internal/bridge"
	"github.com/crimson-sun/stepwise/internal/capture"
	"github.com/crimson-sun/stepwise/internal/dom/htmldom"
	"github.com/crimson-sun/stepwise/internal/model"
)

// script drives a capture context against a static page.
type script struct {
	Page  string   `yaml:"page"`
	URL   string   `yaml:"url"`
	Tab   int      `yaml:"tab"`
	Steps []action `yaml:"steps"`
}

// action is one scripted interaction. Exactly one of the verb fields is set.
type action struct {
	Click    string        `yaml:"click"`
	Input    string        `yaml:"input"`
	Change   string        `yaml:"change"`
	Key      string        `yaml:"key"`
	Hover    string        `yaml:"hover"`
	Navigate string        `yaml:"navigate"`
	Scroll   *scrollAction `yaml:"scroll"`
	Wait     time.Duration `yaml:"wait"`

	Value  string `yaml:"value"`
	Target string `yaml:"target"`
	Ctrl   bool   `yaml:"ctrl"`
	Meta   bool   `yaml:"meta"`
}

type scrollAction struct {
	ID int     `yaml:"id"`
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <script.yaml>",
		Short: "Replay a scripted browsing session against the daemon",
		Long: `simulate loads an HTML page, connects to the daemon as a capture context
and plays the scripted clicks, typing, keys, scrolls and navigations.
Example script:

  page: signup.html
  url: https://example.com/signup
  tab: 1
  steps:
    - click: "#email"
    - input: "#email"
      value: ada@example.com
    - key: Enter
      target: "#email"
    - scroll: {id: 1, y: 400}
    - navigate: https://example.com/welcome`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = "http://" + cfg.Listen
			}
			logPath, _ := cmd.Flags().GetString("log")

			fs := afero.NewOsFs()
			sc, page, err := loadScript(fs, args[0])
			if err != nil {
				return err
			}

			var tee io.Writer
			if logPath != "" {
				f, err := fs.Create(logPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", logPath, err)
				}
				defer f.Close()
				tee = f
			}

			wsURL, err := bridge.CaptureURL(addr, sc.Tab, "", cfg.Token)
			if err != nil {
				return err
			}
			rec := &capture.ManualRecorder{}
			c := capture.New(capture.Page{Doc: page, TabID: sc.Tab, URL: sc.URL},
				capture.WithRecorder(rec),
				capture.WithDebounce(cfg.Capture.ScrollDebounce),
			)
			defer c.Close()

			client, err := bridge.Dial(cmd.Context(), wsURL, nil, c.HandleMessage)
			if err != nil {
				return err
			}
			defer client.Close()
			if err := c.Attach(cmd.Context(), &teePort{Port: client, w: tee}); err != nil {
				return err
			}
			if !c.Active() {
				slog.Warn("recording is not active; events will be ignored until it starts")
			}

			n, err := play(cmd.Context(), c, rec, page, sc)
			if err != nil {
				return err
			}
			// Let a pending scroll flush.
			time.Sleep(cfg.Capture.ScrollDebounce + 100*time.Millisecond)
			fmt.Fprintf(cmd.OutOrStdout(), "played %d actions\n", n)
			return nil
		},
	}
	cmd.Flags().String("addr", "", "Daemon address (default from STEPWISE_LISTEN)")
	cmd.Flags().String("log", "", "Also write every sent message to this NDJSON file")
	return cmd
}

// loadScript reads the script and the page it names, relative to the script.
func loadScript(fs afero.Fs, path string) (script, *htmldom.Document, error) {
	var sc script
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return sc, nil, fmt.Errorf("read script: %w", err)
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	if sc.Page == "" {
		return sc, nil, fmt.Errorf("script %s: page is required", path)
	}
	if sc.Tab == 0 {
		sc.Tab = 1
	}
	pagePath := sc.Page
	if !filepath.IsAbs(pagePath) {
		pagePath = filepath.Join(filepath.Dir(path), pagePath)
	}
	html, err := afero.ReadFile(fs, pagePath)
	if err != nil {
		return sc, nil, fmt.Errorf("read page: %w", err)
	}
	doc, err := htmldom.Parse(bytes.NewReader(html))
	if err != nil {
		return sc, nil, err
	}
	return sc, doc, nil
}

// play dispatches every scripted action and returns how many ran.
func play(ctx context.Context, c *capture.Capturer, rec *capture.ManualRecorder, doc *htmldom.Document, sc script) (int, error) {
	for i, a := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := playOne(ctx, c, rec, doc, a); err != nil {
			return i, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return len(sc.Steps), nil
}

func playOne(ctx context.Context, c *capture.Capturer, rec *capture.ManualRecorder, doc *htmldom.Document, a action) error {
	now := time.Now().UnixMilli()
	switch {
	case a.Click != "":
		el, err := find(doc, a.Click)
		if err != nil {
			return err
		}
		c.Dispatch(ctx, capture.DOMEvent{Type: capture.EventClick, Target: el})
	case a.Input != "":
		el, err := find(doc, a.Input)
		if err != nil {
			return err
		}
		c.Dispatch(ctx, capture.DOMEvent{Type: capture.EventFocus, Target: el})
		c.Dispatch(ctx, capture.DOMEvent{Type: capture.EventInput, Target: el, Value: a.Value})
	case a.Change != "":
		el, err := find(doc, a.Change)
		if err != nil {
			return err
		}
		c.Dispatch(ctx, capture.DOMEvent{Type: capture.EventChange, Target: el, Value: a.Value})
	case a.Key != "":
		ev := capture.DOMEvent{Type: capture.EventKeyDown, Key: a.Key, CtrlKey: a.Ctrl, MetaKey: a.Meta}
		if a.Target != "" {
			el, err := find(doc, a.Target)
			if err != nil {
				return err
			}
			ev.Target = el
		}
		c.Dispatch(ctx, ev)
	case a.Hover != "":
		el, err := find(doc, a.Hover)
		if err != nil {
			return err
		}
		c.Dispatch(ctx, capture.DOMEvent{Type: capture.EventMouseOver, Target: el})
	case a.Scroll != nil:
		data, err := json.Marshal(model.RRWebScrollData{Source: model.RRWebSourceScroll, ID: a.Scroll.ID, X: a.Scroll.X, Y: a.Scroll.Y})
		if err != nil {
			return err
		}
		rec.Emit(model.RRWebEvent{Type: model.RRWebIncrementalSnapshot, Timestamp: now, Data: data})
	case a.Navigate != "":
		data, err := json.Marshal(model.RRWebMetaData{Href: a.Navigate})
		if err != nil {
			return err
		}
		rec.Emit(model.RRWebEvent{Type: model.RRWebMeta, Timestamp: now, Data: data})
	case a.Wait > 0:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.Wait):
		}
	default:
		return fmt.Errorf("empty action")
	}
	return nil
}

func find(doc *htmldom.Document, selector string) (*htmldom.Element, error) {
	el := doc.Find(selector)
	if el == nil {
		return nil, fmt.Errorf("no element matches %q", selector)
	}
	return el, nil
}

// teePort copies every outgoing message to w as one JSON line, producing
// logs that "stepwise convert" reads.
type teePort struct {
	capture.Port
	mu sync.Mutex
	w  io.Writer
}

func (t *teePort) Send(ctx context.Context, msg model.Message) error {
	if t.w != nil && model.IsEventMessage(msg.Type) {
		if line, err := json.Marshal(msg); err == nil {
			t.mu.Lock()
			_, werr := t.w.Write(append(line, '\n'))
			t.mu.Unlock()
			if werr != nil {
				slog.Warn("writing message log", "error", werr)
			}
		}
	}
	return t.Port.Send(ctx, msg)
}
