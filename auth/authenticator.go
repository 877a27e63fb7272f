package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/repository"
)

// Operation is what the caller wants to do with a repository
type Operation string

// Operations checked by the authenticator
const (
	OperationPublish   Operation = "publish"
	OperationSubscribe Operation = "subscribe"
)

// DefaultCacheTTL is how long a successful check is trusted
const DefaultCacheTTL = 30 * time.Second

// RepositoryCatalog tells whether a repository exists
type RepositoryCatalog interface {
	HasRepository(name string) bool
}

// Authenticator checks credentials and roles, caching successes
type Authenticator struct {
	users  UserStore
	repos  RepositoryCatalog
	tokens *TokenCodec
	cache  *gocache.Cache
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator. tokens may be nil, in which case
// token secrets are rejected. ttl below or equal to zero uses DefaultCacheTTL.
func NewAuthenticator(users UserStore, repos RepositoryCatalog, tokens *TokenCodec, ttl time.Duration, logger *slog.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		users:  users,
		repos:  repos,
		tokens: tokens,
		cache:  gocache.New(ttl, 2*ttl),
		logger: logger.With("component", "authenticator"),
	}
}

func cacheKey(op Operation, repo, username, secret string) string {
	return fmt.Sprintf("%s_%s_%s_%s", op, repo, username, secret)
}

// Authenticate verifies that username, proving identity with secret, may
// perform op on repo. Every failure is an ErrAuthentication.
func (a *Authenticator) Authenticate(ctx context.Context, op Operation, repo, username, secret string) (*User, error) {
	key := cacheKey(op, repo, username, secret)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(*User), nil
	}

	u, err := a.check(ctx, op, repo, username, secret)
	if err != nil {
		a.logger.Debug("Authentication rejected", "operation", op, "repository", repo, "username", username, "error", err)
		return nil, err
	}
	a.cache.SetDefault(key, u)
	return u, nil
}

func (a *Authenticator) check(ctx context.Context, op Operation, repo, username, secret string) (*User, error) {
	if repo == "" || !a.repos.HasRepository(repo) {
		return nil, a.reject(fmt.Sprintf("repository %q not found", repo))
	}
	if username == "" || secret == "" {
		return nil, a.reject("username and password are required")
	}

	u, err := a.users.GetUser(ctx, username)
	if err != nil {
		if errors.IsTransient(err) {
			return nil, err
		}
		return nil, a.reject(fmt.Sprintf("unknown user %q", username))
	}
	if u.Disabled {
		return nil, a.reject(fmt.Sprintf("user %q is disabled", username))
	}

	if IsToken(secret) {
		if a.tokens == nil {
			return nil, a.reject("tokens are not accepted")
		}
		t, err := a.tokens.Verify(secret)
		if err != nil {
			return nil, err
		}
		if t.UserID != u.ID {
			return nil, a.reject("token was issued to another user")
		}
	} else if !u.CheckPassword(secret) {
		return nil, a.reject("bad password")
	}

	if !u.HasAnyRole(AllowedRoles(op, repo)...) {
		return nil, a.reject(fmt.Sprintf("user %q may not %s to repository %q", username, op, repo))
	}
	return u, nil
}

func (a *Authenticator) reject(reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrAuthentication, reason), "Authenticator", "Authenticate", "authenticate")
}

// Flush drops every cached result
func (a *Authenticator) Flush() {
	a.cache.Flush()
}

// AllowedRoles lists the roles that permit op on repo
func AllowedRoles(op Operation, repo string) []string {
	roles := []string{
		SystemAdministratorRole,
		repository.AdministratorRole(repo),
		repository.WorkbenchRole(repo),
	}
	switch op {
	case OperationPublish:
		roles = append(roles, repository.WriterRole(repo))
	case OperationSubscribe:
		roles = append(roles, repository.ReaderRole(repo))
	}
	return roles
}
