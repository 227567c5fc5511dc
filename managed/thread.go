package managed

import (
	"context"

	"github.com/wippyai/clearcut-bridge/internal/osthread"
)

type threadKey struct{}

// WithThread pins the thread identity seen by a VM to id. Runtimes key
// attachment state by this identity, so callers that want real OS thread
// semantics must leave it unset and lock the goroutine to its thread.
// Zero means the identity is unknown.
func WithThread(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, threadKey{}, id)
}

// ThreadID returns the thread identity for ctx: the id set by WithThread,
// or the calling OS thread's id. It returns 0 when neither is known.
func ThreadID(ctx context.Context) int64 {
	if ctx != nil {
		if id, ok := ctx.Value(threadKey{}).(int64); ok {
			return id
		}
	}
	return osthread.Current()
}
