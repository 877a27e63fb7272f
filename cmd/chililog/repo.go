package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zhikook/chililog-server/natsclient"
	"github.com/zhikook/chililog-server/repository"
)

func newRepoCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repository configs in the repositories bucket",
	}
	cmd.AddCommand(newRepoSeedCmd(a), newRepoListCmd(a), newRepoDeleteCmd(a))
	return cmd
}

func newRepoSeedCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write every repository of a YAML file to the bucket, replacing existing configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				source, err := a.repositorySource(cmd.Context(), client)
				if err != nil {
					return err
				}
				n, err := source.Seed(cmd.Context(), repository.NewFileSource(file))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d repositories\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a top-level repositories list")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRepoListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List repository configs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				source, err := a.repositorySource(cmd.Context(), client)
				if err != nil {
					return err
				}
				configs, err := source.List(cmd.Context())
				if err != nil {
					return err
				}
				return printRepositories(cmd.OutOrStdout(), configs)
			})
		},
	}
}

func newRepoDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a repository config; a running server takes it Offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withNATS(cmd.Context(), func(client *natsclient.Client) error {
				source, err := a.repositorySource(cmd.Context(), client)
				if err != nil {
					return err
				}
				return source.Delete(cmd.Context(), args[0])
			})
		},
	}
}

func printRepositories(w io.Writer, configs []repository.Config) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTARTUP\tWORKERS\tPOLICY\tPARSERS")
	for _, c := range configs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n",
			c.Name, c.StartupStatus, c.WriteQueueWorkerCount, c.WriteQueueMaxMemoryPolicy, len(c.Parsers))
	}
	return tw.Flush()
}
