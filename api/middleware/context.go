package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxAccountID contextKey = "account_id"
	ctxAdminID   contextKey = "admin_id"
)

const (
	accountIDHeader = "X-Account-Id"
	adminIDHeader   = "X-Admin-Id"
)

func AccountIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxAccountID).(string); ok {
		return v
	}
	return ""
}

func AdminIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxAdminID).(string); ok {
		return v
	}
	return ""
}

// WithAccountID injects the acting account identifier into the context.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxAccountID, accountID)
}

// WithAdminID injects the acting admin identifier into the context.
func WithAdminID(ctx context.Context, adminID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxAdminID, adminID)
}

// Actor lifts the authenticated identities forwarded by the gateway into
// request context. Authentication itself happens upstream; this service only
// needs the ids for attribution and dual-control checks.
func Actor() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := strings.TrimSpace(r.Header.Get(accountIDHeader)); id != "" {
				ctx = WithAccountID(ctx, id)
			}
			if id := strings.TrimSpace(r.Header.Get(adminIDHeader)); id != "" {
				ctx = WithAdminID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
