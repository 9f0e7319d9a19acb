package faults

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/memgate-io/memgate/internal/backend"
	"github.com/memgate-io/memgate/internal/config"
)

// Classify maps an arbitrary failure into the taxonomy. Classification is
// structural (error types, sentinel values, declared interfaces), never a
// match on message text, so it stays stable across backend wording changes.
// The original error is always retained as the cause.
//
// Messages are deliberately generic: the cause may mention connection
// strings or protocol frames, and those must not reach tool callers.
func Classify(err error) *Classified {
	if err == nil {
		return nil
	}

	// Already classified failures pass through unchanged.
	var classified *Classified
	if errors.As(err, &classified) {
		return classified
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return Wrap(ConfigurationInvalid,
			fmt.Sprintf("configuration invalid: %s: %s", cfgErr.Path, cfgErr.Constraint), err)
	}

	// Deadline expiry, whether from our own contexts or surfaced by the
	// client as a timeout-flagged net.Error.
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(UpstreamTimeout, "memory backend timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(UpstreamTimeout, "memory backend timed out", err)
	}

	// Request-level rejections.
	if errors.Is(err, backend.ErrNotFound) || errors.Is(err, redis.Nil) {
		return Wrap(BackendRejected, "memory not found", err)
	}

	// Transport-level failures: refused/reset connections, closed clients,
	// broken pipes.
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Wrap(BackendUnavailable, "memory backend is unreachable", err)
	}

	if errors.Is(err, context.Canceled) {
		return Wrap(Internal, "operation canceled", err)
	}

	return Wrap(Internal, "unexpected internal error", err)
}
