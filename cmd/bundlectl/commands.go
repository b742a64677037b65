package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/meigma/bundle/catalog"
)

// errVerifyFailed is returned by verify when any bundle fails.
var errVerifyFailed = errors.New("verification failed")

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List catalog bundles with their install state",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tNAME\tSIZE\tINSTALLED\tREFS\tDEPENDENCIES")
			for _, s := range status {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%v\n",
					s.Group, s.Name, s.SizeBytes, s.Installed, s.Refs, s.Dependencies)
			}
			return tw.Flush()
		},
	}
}

func newInstallCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "install [NAME...]",
		Short: "Install bundles and their dependencies",
		Args: func(_ *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("give bundle names or --all, not both")
			}
			return nil
		},
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if all {
				if err := a.client.InstallAll(ctx, a.progressFunc(cmd.ErrOrStderr(), "all")); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "installed all bundles")
				return nil
			}
			for _, name := range args {
				if err := a.client.Install(ctx, name, a.progressFunc(cmd.ErrOrStderr(), name)); err != nil {
					return fmt.Errorf("install %s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "install every bundle in the catalog")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "verify NAME...",
		Short:   "Check installed bundles against their content hash",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, name := range args {
				ok, err := a.client.Verify(cmd.Context(), name, a.progressFunc(cmd.ErrOrStderr(), name))
				if err != nil {
					return fmt.Errorf("verify %s: %w", name, err)
				}
				state := "ok"
				if !ok {
					state = "missing or corrupt"
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, state)
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d bundles", errVerifyFailed, failed, len(args))
			}
			return nil
		},
	}
}

func newOpenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "open NAME",
		Short:   "Install and open a bundle, print its load order, then release it",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			name := args[0]
			lease, err := a.client.Acquire(cmd.Context(), name, a.progressFunc(cmd.ErrOrStderr(), name))
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, lease.Release())
			}()

			order, err := catalog.Closure(a.client.Catalog(), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, d := range order {
				fmt.Fprintf(out, "%d. %s (%d bytes)\n", i+1, d.Name, d.SizeBytes)
			}
			fmt.Fprintf(out, "open: %v\n", a.client.OpenBundles())
			return nil
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "clean",
		Short:   "Remove every installed bundle",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			used, err := a.client.Usage()
			if err != nil {
				return err
			}
			if err := a.client.RemoveAll(cmd.Context(), a.progressFunc(cmd.ErrOrStderr(), "clean")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storage cleared (%d bytes freed)\n", used)
			return nil
		},
	}
}
