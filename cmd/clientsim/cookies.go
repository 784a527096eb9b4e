package main

import (
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"clientsim/internal/auth"
)

func newCookiesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cookies",
		Short: "Inspect stashed guest session cookies",
	}
	cmd.AddCommand(newCookiesListCmd(a), newCookiesCheckCmd(a), newCookiesLogoutCmd(a))
	return cmd
}

func newCookiesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List guest cookies that are not expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "DOMAIN\tUSERNAME\tCREATED\tEXPIRES")
			for _, c := range a.pool.Snapshot() {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Domain, c.Username,
					c.CreatedAt.Local().Format(time.DateTime), c.ExpiresAt.Local().Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
}

func newCookiesCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Ask each site whether its guest sessions are still valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.pool.Client()
			out := cmd.OutOrStdout()
			for _, c := range a.pool.Snapshot() {
				ok, err := client.CheckValidity(cmd.Context(), c.Domain, c.Cookie)
				switch {
				case err != nil:
					a.log.Err(err, "检查会话失败", "domain", c.Domain, "username", c.Username)
					_, _ = fmt.Fprintf(out, "%s %s: error\n", c.Domain, c.Username)
				case ok:
					_, _ = fmt.Fprintf(out, "%s %s: valid\n", c.Domain, c.Username)
				default:
					_, _ = fmt.Fprintf(out, "%s %s: rejected\n", c.Domain, c.Username)
				}
			}
			return nil
		},
	}
}

func newCookiesLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <username>",
		Short: "End a guest session and drop its cookie from the stash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stash := auth.NewStash(a.cfg.CookieStashPath(), a.cfg.Cookies.PersistDomains)
			data, err := stash.Read()
			if err != nil {
				return err
			}

			removed := 0
			for domain, cookies := range data.Cookies {
				data.Cookies[domain] = slices.DeleteFunc(cookies, func(c auth.HyperSessionCookie) bool {
					if c.Username != args[0] {
						return false
					}
					if err := a.pool.Client().Logout(cmd.Context(), c.Domain, c.Cookie); err != nil {
						a.log.Warn("注销会话失败", "domain", c.Domain, "username", c.Username, "error", err)
					}
					removed++
					return true
				})
			}
			if removed == 0 {
				return fmt.Errorf("no stashed cookie for %q", args[0])
			}
			if err := stash.Save(data); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cookies\n", removed)
			return nil
		},
	}
}
