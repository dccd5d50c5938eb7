package audit

import (
	"context"
	"strings"
)

// RequestMeta carries per-request attribution that the HTTP layer knows and
// the domain services do not: the caller's address and client software.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

type metaContextKey struct{}

// WithRequestMeta attaches request attribution to the context so events
// recorded further down the call chain pick it up automatically.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	meta.IPAddress = strings.TrimSpace(meta.IPAddress)
	meta.UserAgent = strings.TrimSpace(meta.UserAgent)
	return context.WithValue(ctx, metaContextKey{}, meta)
}

// MetaFromContext returns previously attached request attribution.
func MetaFromContext(ctx context.Context) (RequestMeta, bool) {
	if ctx == nil {
		return RequestMeta{}, false
	}
	meta, ok := ctx.Value(metaContextKey{}).(RequestMeta)
	return meta, ok
}
