package http

import (
	"context"
	"net/http"
	"strings"
)

type recipientKey struct{}

// RecipientResolver extracts the recipient id of an incoming request.
// The service trusts whatever the auth proxy in front of it has established.
type RecipientResolver func(r *http.Request) (string, bool)

// HeaderResolver reads the recipient id from a request header.
func HeaderResolver(header string) RecipientResolver {
	return func(r *http.Request) (string, bool) {
		id := strings.TrimSpace(r.Header.Get(header))
		return id, id != ""
	}
}

// Identity stores the resolved recipient id in the request context. Requests
// without one pass through untouched; handlers decide whether it is required.
func Identity(resolve RecipientResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, ok := resolve(r); ok {
				r = r.WithContext(WithRecipientID(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithRecipientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, recipientKey{}, id)
}

func RecipientID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(recipientKey{}).(string)
	return id, ok && id != ""
}
