package apikey

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

type contextKey struct{}

// Provider maps a shared API key to a single configured user. The deployment
// is single-tenant but storage keys and registry rows stay namespaced per
// user ID.
type Provider struct {
	apiKey string
	user   domain.User
}

func New(apiKey string, user domain.User) *Provider {
	return &Provider{apiKey: apiKey, user: user}
}

// Authenticate checks the presented key and returns the owning user.
func (p *Provider) Authenticate(presented string) (*domain.User, error) {
	if p.apiKey == "" {
		u := p.user
		return &u, nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(p.apiKey)) != 1 {
		return nil, domain.WrapError(domain.ErrUnauthorized, "identity.authenticate", fmt.Errorf("invalid api key"))
	}
	u := p.user
	return &u, nil
}

func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(contextKey{}).(*domain.User)
	return user, ok && user != nil
}
