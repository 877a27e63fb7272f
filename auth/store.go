package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/natsclient"
)

// DefaultBucket is the KV bucket holding users
const DefaultBucket = "chililog_users"

// ErrUserNotFound is returned by a UserStore for unknown usernames
var ErrUserNotFound = fmt.Errorf("%w: user not found", errors.ErrAuthentication)

// UserStore looks users up by username
type UserStore interface {
	GetUser(ctx context.Context, username string) (*User, error)
}

// KVUserStore keeps users as JSON in a NATS KV bucket keyed by username
type KVUserStore struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// NewKVUserStore wraps a KV store
func NewKVUserStore(kv *natsclient.KVStore, logger *slog.Logger) *KVUserStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVUserStore{kv: kv, logger: logger.With("component", "user_store")}
}

// GetUser reads a user. Returns ErrUserNotFound when absent.
func (s *KVUserStore) GetUser(ctx context.Context, username string) (*User, error) {
	kvEntry, err := s.kv.Get(ctx, username)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, errors.WrapTransient(err, "KVUserStore", "GetUser", "read user")
	}
	var u User
	if err := json.Unmarshal(kvEntry.Value, &u); err != nil {
		return nil, errors.WrapInvalid(err, "KVUserStore", "GetUser", "decode user")
	}
	return &u, nil
}

// PutUser validates and writes u, replacing any user with the same name
func (s *KVUserStore) PutUser(ctx context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return errors.WrapInvalid(err, "KVUserStore", "PutUser", "encode user")
	}
	if _, err := s.kv.Put(ctx, u.Username, data); err != nil {
		return errors.WrapTransient(err, "KVUserStore", "PutUser", "write user")
	}
	s.logger.Info("User saved", "username", u.Username, "roles", u.Roles)
	return nil
}

// GrantRoles adds roles to an existing user with compare-and-set, so
// concurrent grants are not lost
func (s *KVUserStore) GrantRoles(ctx context.Context, username string, roles ...string) error {
	err := s.kv.UpdateWithRetry(ctx, username, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, ErrUserNotFound
		}
		var u User
		if err := json.Unmarshal(current, &u); err != nil {
			return nil, err
		}
		u.AddRoles(roles...)
		return json.Marshal(&u)
	})
	if err != nil {
		if stderrors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return errors.WrapTransient(err, "KVUserStore", "GrantRoles", "update user")
	}
	return nil
}

// DeleteUser removes a user. Deleting an unknown user succeeds.
func (s *KVUserStore) DeleteUser(ctx context.Context, username string) error {
	if err := s.kv.Delete(ctx, username); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "KVUserStore", "DeleteUser", "remove user")
	}
	return nil
}
