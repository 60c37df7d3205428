package auth

import "context"

type contextKey string

const contextKeyBusinessID contextKey = "business_id"

func WithBusinessID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyBusinessID, id)
}

// BusinessIDFromContext returns the authenticated business. There is no
// fallback: an unauthenticated context yields ok == false.
func BusinessIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyBusinessID).(string)
	return id, ok && id != ""
}
