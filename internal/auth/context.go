package auth

import (
	"context"

	"github.com/loveaihub/loveaihub/internal/models"
)

type contextKey struct{}

func ContextWithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the authenticated account stored by the auth
// middleware, or nil outside an authenticated request.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(contextKey{}).(*models.User)
	return user
}
