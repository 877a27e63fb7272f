package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhikook/chililog-server/errors"
)

func TestNewUser(t *testing.T) {
	u, err := NewUser("bob", "secret1", "repository.sandbox.writer")
	require.NoError(t, err)

	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "secret1", u.PasswordHash)
	assert.True(t, u.CheckPassword("secret1"))
	assert.False(t, u.CheckPassword("secret2"))
	assert.False(t, u.CheckPassword(""))
	assert.NoError(t, u.Validate())

	_, err = NewUser("", "secret1")
	assert.True(t, errors.IsInvalid(err))
	_, err = NewUser("bob", "")
	assert.True(t, errors.IsInvalid(err))
}

func TestUser_Roles(t *testing.T) {
	u := &User{Username: "bob", Roles: []string{"b"}}
	assert.True(t, u.HasRole("b"))
	assert.False(t, u.HasRole("a"))
	assert.True(t, u.HasAnyRole("x", "b"))
	assert.False(t, u.HasAnyRole())

	u.AddRoles("a", "b", "c")
	assert.Equal(t, []string{"a", "b", "c"}, u.Roles)
}

func TestUser_Validate(t *testing.T) {
	valid := func() *User {
		return &User{ID: "1", Username: "bob", PasswordHash: "x"}
	}

	tests := []struct {
		name   string
		mutate func(*User)
	}{
		{"no id", func(u *User) { u.ID = "" }},
		{"no username", func(u *User) { u.Username = "" }},
		{"dotted username", func(u *User) { u.Username = "bob.smith" }},
		{"wildcard username", func(u *User) { u.Username = "bob*" }},
		{"no password", func(u *User) { u.PasswordHash = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := valid()
			tt.mutate(u)
			assert.True(t, errors.IsInvalid(u.Validate()))
		})
	}
}

func TestAllowedRoles(t *testing.T) {
	assert.Equal(t, []string{
		"system.administrator",
		"repository.sandbox.administrator",
		"repository.sandbox.workbench",
		"repository.sandbox.writer",
	}, AllowedRoles(OperationPublish, "sandbox"))

	assert.Contains(t, AllowedRoles(OperationSubscribe, "sandbox"), "repository.sandbox.reader")
	assert.NotContains(t, AllowedRoles(OperationSubscribe, "sandbox"), "repository.sandbox.writer")
}
