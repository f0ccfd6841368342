package output

import (
	"context"

	"github.com/crimson-sun/stepwise/internal/model"
)

// Output defines the interface for notification destinations.
type Output interface {
	Write(ctx context.Context, n model.Notification) error
	Close() error
}
