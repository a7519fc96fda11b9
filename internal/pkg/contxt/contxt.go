package contxt

import (
	"context"
	"time"
)

// Detached returns a timeout context independent of any caller context, for
// fire-and-forget work that must outlive the request that triggered it
// (outbound mutations, snapshot publishes).
func Detached(timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ctx
}
