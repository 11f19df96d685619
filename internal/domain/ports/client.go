package ports

import (
	"context"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// Console prints client-visible lines. Filtering by verbosity happens before
// a line reaches the console.
type Console interface {
	Print(category entities.Category, line string)
}

// Page is what a client runtime acts on
type Page interface {
	// HotUpdate applies the modules of build hash in place. It returns
	// entities.ErrHotUpdateRejected when the module graph refuses the update.
	HotUpdate(ctx context.Context, hash string) error
	// Reload reloads the whole page
	Reload()
}

// ClientStream is the client end of a transport channel
type ClientStream interface {
	// Receive blocks until the next message arrives or the stream dies
	Receive(ctx context.Context) (entities.Message, error)
	Close() error
}

// ClientDialer opens client streams to a dev server
type ClientDialer interface {
	Dial(ctx context.Context) (ClientStream, error)
}
