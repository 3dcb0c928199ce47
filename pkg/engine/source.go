package engine

import (
	"context"

	"github.com/meridianbank/sentinel/pkg/event"
)

// Source feeds events into the engine. Start blocks until the context is
// cancelled or the source fails fatally; the engine runs each source in
// its own goroutine. Stop releases underlying connections and may be
// called concurrently with a blocked Start.
type Source interface {
	Name() string
	Start(ctx context.Context, out chan<- *event.Event) error
	Stop() error
}
