package source

import (
	"context"

	"github.com/crimson-sun/stepwise/internal/model"
)

// Source yields recorded port messages, such as a capture log replayed offline.
type Source interface {
	// Stream sends messages as they are read. The channel closes at the end
	// of input or when ctx is done.
	Stream(ctx context.Context) (<-chan model.Message, error)
}
