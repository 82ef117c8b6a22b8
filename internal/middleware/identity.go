package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
	"github.com/zhouzirui/vision-talk/backend/pkg/utils"
)

// 身份代理注入的请求头
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
	HeaderUserPhoto = "X-User-Photo"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	clientKey
)

// Identity reads the identity headers set by the fronting identity proxy.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chat.Identity{
			UserID:      strings.TrimSpace(r.Header.Get(HeaderUserID)),
			DisplayName: r.Header.Get(HeaderUserName),
			Email:       r.Header.Get(HeaderUserEmail),
			PhotoURL:    r.Header.Get(HeaderUserPhoto),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// IdentityFrom returns the request identity; it is anonymous when no headers were sent.
func IdentityFrom(ctx context.Context) chat.Identity {
	id, _ := ctx.Value(identityKey).(chat.Identity)
	return id
}

// RequireClient resolves the signed-in client of the request, rejecting anonymous callers.
func RequireClient(reg *client.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id.Anonymous() {
				utils.RespondError(w, http.StatusUnauthorized, "Please sign in to continue.")
				return
			}
			c, err := reg.Get(r.Context(), id)
			if err != nil {
				log.Error().Str("component", "http").Err(err).Str("user", id.UserID).Msg("failed to resolve client")
				utils.RespondError(w, http.StatusInternalServerError, "failed to load user state")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey, c)))
		})
	}
}

// ClientFrom returns the client stored by RequireClient.
func ClientFrom(ctx context.Context) *client.Client {
	c, _ := ctx.Value(clientKey).(*client.Client)
	return c
}

// WithClient stores c in ctx. Used by tests that bypass RequireClient.
func WithClient(ctx context.Context, c *client.Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}
