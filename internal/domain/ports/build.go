package ports

import (
	"context"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// BuildListener receives build pipeline lifecycle events
type BuildListener interface {
	// OnInvalidated announces that a rebuild started and returns the cycle
	// number the pipeline must echo in the matching BuildStats
	OnInvalidated() uint64
	// OnDone reports the result of a cycle
	OnDone(stats entities.BuildStats)
}

// BuildPipeline is the external build system, treated as a black box
type BuildPipeline interface {
	// Subscribe registers a listener. The returned function unsubscribes and
	// guarantees no further callbacks once it returns.
	Subscribe(ctx context.Context, listener BuildListener) (unsubscribe func(), err error)
}
