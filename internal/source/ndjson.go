package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/crimson-sun/stepwise/internal/model"
)

const maxLine = 16 << 20 // screenshots inline

func init() {
	Register("file", func(fs afero.Fs, location string) Source {
		return NewNDJSON(location, func() (io.ReadCloser, error) { return fs.Open(location) })
	})
	Register("stdin", func(_ afero.Fs, _ string) Source {
		return NewNDJSON("stdin", func() (io.ReadCloser, error) { return io.NopCloser(os.Stdin), nil })
	})
}

// NDJSON reads one model.Message per line. Blank lines are skipped;
// undecodable lines are logged and skipped.
type NDJSON struct {
	name string
	open func() (io.ReadCloser, error)
}

// NewNDJSON creates an NDJSON source. open is called once per Stream.
func NewNDJSON(name string, open func() (io.ReadCloser, error)) *NDJSON {
	return &NDJSON{name: name, open: open}
}

func (s *NDJSON) Stream(ctx context.Context) (<-chan model.Message, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", s.name, err)
	}
	ch := make(chan model.Message)
	go func() {
		defer close(ch)
		defer rc.Close()
		err := s.scan(rc, func(msg model.Message) bool {
			select {
			case ch <- msg:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil {
			slog.Warn("source read failed", "source", s.name, "error", err)
		}
	}()
	return ch, nil
}

func (s *NDJSON) scan(r io.Reader, emit func(model.Message) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("skipping undecodable line", "source", s.name, "line", line, "error", err)
			continue
		}
		if !emit(msg) {
			return nil
		}
	}
	return sc.Err()
}
