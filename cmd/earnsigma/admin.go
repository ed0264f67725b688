package main

import (
	"fmt"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/spf13/cobra"
)

func newAdminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin console: inspect and manage creators",
	}
	cmd.AddCommand(
		newAdminWhoAmICmd(a),
		newAdminUsersCmd(a),
		newAdminUserCmd(a),
		newAdminBlockCmd(a),
		newAdminCompCmd(a),
	)
	return cmd
}

func newAdminWhoAmICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show whether the token belongs to an admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			whoami, err := a.client().FetchAdminWhoAmI(cmd.Context(), client.FetchOptions{ForceRefresh: true})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), whoami)
		},
	}
}

func newAdminUsersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "users [search]",
		Short: "List creators, optionally filtered by email or id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			search := ""
			if len(args) == 1 {
				search = args[0]
			}
			users, err := a.client().FetchAdminUsers(cmd.Context(), search)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), users)
		},
	}
}

func newAdminUserCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "user <creator-id>",
		Short: "Show a creator with their latest upload and report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detail, err := a.client().FetchAdminUserDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func newAdminBlockCmd(a *app) *cobra.Command {
	var unblock bool
	cmd := &cobra.Command{
		Use:   "block <creator-id>",
		Short: "Block or unblock a creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, err := a.client().UpdateAdminUserBlocked(cmd.Context(), args[0], !unblock)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		},
	}
	cmd.Flags().BoolVar(&unblock, "unblock", false, "Lift the block instead")
	return cmd
}

func newAdminCompCmd(a *app) *cobra.Command {
	var until string
	var remove bool
	cmd := &cobra.Command{
		Use:   "comp <creator-id>",
		Short: "Grant or remove complimentary access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remove == (until != "") {
				return fmt.Errorf("pass exactly one of --until or --clear")
			}

			var compUntil *string
			if !remove {
				formatted, err := formatCompUntil(until)
				if err != nil {
					return err
				}
				compUntil = &formatted
			}

			row, err := a.client().UpdateAdminUserCompUntil(cmd.Context(), args[0], compUntil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "Last day of complimentary access (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().BoolVar(&remove, "clear", false, "Remove complimentary access")
	return cmd
}

// formatCompUntil accepts a date or an RFC 3339 timestamp
func formatCompUntil(value string) (string, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", value)
	}
	return t.UTC().Format(time.RFC3339), nil
}
