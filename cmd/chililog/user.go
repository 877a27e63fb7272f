package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhikook/chililog-server/auth"
	"github.com/zhikook/chililog-server/natsclient"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage publishing and subscribing users",
	}
	cmd.AddCommand(newUserAddCmd(a), newUserGrantCmd(a), newUserDeleteCmd(a), newUserTokenCmd(a))
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var username, password, displayName string
	var roles []string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or replace a user",
		Example: `  chililog user add --username app1 --password s3cret --role repository.sandbox.writer
  chililog user add --username ops --password s3cret --role system.administrator`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := auth.NewUser(username, password)
			if err != nil {
				return err
			}
			u.DisplayName = displayName
			u.AddRoles(roles...)
			if err := u.Validate(); err != nil {
				return err
			}

			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				users, err := a.userStore(cmd.Context(), client)
				if err != nil {
					return err
				}
				if err := users.PutUser(cmd.Context(), u); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user %s saved with id %s\n", u.Username, u.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password, stored as a bcrypt hash")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "role to grant, repeatable")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserGrantCmd(a *app) *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "grant USERNAME",
		Short: "Add roles to an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				users, err := a.userStore(cmd.Context(), client)
				if err != nil {
					return err
				}
				return users.GrantRoles(cmd.Context(), args[0], roles...)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "role to grant, repeatable")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newUserDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete USERNAME",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				users, err := a.userStore(cmd.Context(), client)
				if err != nil {
					return err
				}
				return users.DeleteUser(cmd.Context(), args[0])
			})
		},
	}
}

func newUserTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token USERNAME",
		Short: "Issue a token credential usable in place of the password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := a.tokenCodec()
			if err != nil {
				return err
			}
			if tokens == nil {
				return fmt.Errorf("auth.token_secret is not configured")
			}

			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				users, err := a.userStore(cmd.Context(), client)
				if err != nil {
					return err
				}
				u, err := users.GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				token, err := tokens.Issue(u.ID, ttl)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
