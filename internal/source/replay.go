package source

import (
	"context"
	"errors"
	"log/slog"

	"github.com/crimson-sun/stepwise/internal/model"
)

// Recorder accepts decoded raw events.
type Recorder interface {
	RecordEvent(ctx context.Context, tabID int, ev model.RawEvent)
}

// Stats counts what a replay did with its input.
type Stats struct {
	Messages int
	Events   int
	Skipped  int
}

// Replay decodes every event message from msgs and records it. Control and
// reply messages are skipped. Stops early when ctx is done.
func Replay(ctx context.Context, msgs <-chan model.Message, rec Recorder) (Stats, error) {
	var st Stats
	for {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return st, nil
			}
			st.Messages++
			if !model.IsEventMessage(msg.Type) {
				st.Skipped++
				continue
			}
			ev, err := model.DecodeEvent(msg)
			if err != nil {
				if !errors.Is(err, model.ErrIgnoredEvent) {
					slog.Warn("skipping undecodable event", "type", msg.Type, "error", err)
				}
				st.Skipped++
				continue
			}
			rec.RecordEvent(ctx, ev.Base().TabID, ev)
			st.Events++
		}
	}
}
