package middleware

import "context"

type contextKey string

const userHolderKey contextKey = "userHolder"

// userHolder is filled in by RecordUser and read by Logger after the
// handler chain returns.
type userHolder struct {
	userID int64
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey, h)
}

func userHolderFrom(ctx context.Context) *userHolder {
	h, _ := ctx.Value(userHolderKey).(*userHolder)
	return h
}
