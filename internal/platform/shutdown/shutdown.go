package shutdown

import (
	"context"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context cancelled on SIGINT or SIGTERM, so batch
// runs can stop between files instead of dying mid-write.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
