package services

import "context"

type skipCacheInvalidationKey struct{}

// WithSkipCacheInvalidation marks ctx so writes leave the tree cache alone.
// Bulk loaders use it and invalidate once at the end.
func WithSkipCacheInvalidation(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipCacheInvalidationKey{}, true)
}

func shouldSkipCacheInvalidation(ctx context.Context) bool {
	v := ctx.Value(skipCacheInvalidationKey{})
	skip, _ := v.(bool)
	return skip
}
