// Package auditctx carries request provenance from the HTTP edge down to the audit log.
package auditctx

import (
	"context"
	"strings"
)

const maxUserAgent = 255

// Origin describes where a state-changing request came from.
type Origin struct {
	IPAddress string
	UserAgent string
}

type originKey struct{}

// WithOrigin returns a derived context carrying origin. Empty origins are not stored.
func WithOrigin(ctx context.Context, origin Origin) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	origin.IPAddress = strings.TrimSpace(origin.IPAddress)
	origin.UserAgent = strings.TrimSpace(origin.UserAgent)
	if len(origin.UserAgent) > maxUserAgent {
		origin.UserAgent = origin.UserAgent[:maxUserAgent]
	}
	if origin == (Origin{}) {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, origin)
}

// FromContext extracts the request origin, if any.
func FromContext(ctx context.Context) (Origin, bool) {
	if ctx == nil {
		return Origin{}, false
	}
	origin, ok := ctx.Value(originKey{}).(Origin)
	return origin, ok
}
