// Package auth authenticates publishers and subscribers against the user
// store.
//
// A request names a repository, a username and a secret. The secret is
// either the user's password, checked against a bcrypt hash, or a
// "token:"-prefixed token issued to the browser workbench, checked with an
// HMAC-SHA256 signature. The user must then hold a role that allows the
// operation on that repository:
//
//	publish:   system.administrator, repository.<name>.administrator,
//	           repository.<name>.workbench, repository.<name>.writer
//	subscribe: system.administrator, repository.<name>.administrator,
//	           repository.<name>.workbench, repository.<name>.reader
//
// Successful checks are cached per (operation, repository, username, secret)
// for a configurable interval so a busy publisher does not hit the user
// store on every request. Failures are never cached.
//
//	a := auth.NewAuthenticator(users, manager, codec, 30*time.Second, logger)
//	if _, err := a.Authenticate(ctx, auth.OperationPublish, "sandbox", "bob", secret); err != nil {
//	    // rejected
//	}
package auth
