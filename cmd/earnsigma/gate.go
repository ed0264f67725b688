package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/gate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newGateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate access-gate and host routing decisions",
	}
	cmd.AddCommand(newGateDecideCmd(a), newGateHostCmd())
	return cmd
}

func newGateDecideCmd(a *app) *cobra.Command {
	var in gate.Input
	var live bool
	var adminEmails []string
	cmd := &cobra.Command{
		Use:   "decide <path>",
		Short: "Print the gate decision for a path under /app",
		Long: `decide evaluates the access gate for a path. Session and entitlement state
come from flags, or from the API with --live using the configured token.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Pathname = args[0]
			if live {
				if err := a.resolveLive(cmd, &in, adminEmails); err != nil {
					return err
				}
			}
			decision := gate.DecideAppGate(in)
			a.log.WithFields(logrus.Fields{
				"session":            in.HasSession,
				"entitled":           in.IsEntitled,
				"admin":              in.IsAdmin,
				"entitlements_error": in.HasEntitlementsError,
			}).Debug("Gate input")
			fmt.Fprintln(cmd.OutOrStdout(), decision)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&in.HasSession, "signed-in", false, "Caller has a session")
	flags.BoolVar(&in.IsLoadingSession, "loading-session", false, "Session is still loading")
	flags.BoolVar(&in.IsLoadingEntitlements, "loading-entitlements", false, "Entitlements are still loading")
	flags.BoolVar(&in.HasEntitlementsError, "entitlements-error", false, "The entitlements lookup failed")
	flags.BoolVar(&in.IsEntitled, "entitled", false, "Caller has an active plan")
	flags.BoolVar(&in.IsAdmin, "admin", false, "Caller is an admin")
	flags.BoolVar(&live, "live", false, "Resolve session, entitlements and admin role from the API")
	flags.StringSliceVar(&adminEmails, "admin-emails", nil, "Emails treated as admins with --live")
	return cmd
}

// resolveLive fills in from the API the same way the gateway does
func (a *app) resolveLive(cmd *cobra.Command, in *gate.Input, adminEmails []string) error {
	in.HasSession = a.token != ""
	in.IsLoadingSession = false
	in.IsLoadingEntitlements = false
	if !in.HasSession {
		return nil
	}

	api := a.client()
	var g errgroup.Group
	var entitlementsErr error
	g.Go(func() error {
		entitlements, err := api.FetchEntitlements(cmd.Context(), client.FetchOptions{})
		if err != nil {
			entitlementsErr = err
			return nil
		}
		in.IsEntitled = entitlements.Entitled
		return nil
	})
	g.Go(func() error {
		whoami, err := api.FetchAdminWhoAmI(cmd.Context(), client.FetchOptions{})
		if err != nil {
			a.log.WithError(err).Warn("Admin lookup failed")
			return nil
		}
		in.IsAdmin = gate.ResolveAdmin(whoami, adminEmails)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if entitlementsErr != nil {
		a.log.WithError(entitlementsErr).Warn("Entitlements lookup failed")
		in.HasEntitlementsError = true
	}
	return nil
}

func newGateHostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "host <host> <path>",
		Short: "Print where a request for host and path is served",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[1]
			if !strings.HasPrefix(target, "/") {
				target = "/" + target
			}
			u, err := url.ParseRequestURI(target)
			if err != nil {
				return fmt.Errorf("invalid path %q: %w", args[1], err)
			}

			decision := gate.RouteHost(args[0], u)
			if !decision.Redirect() {
				fmt.Fprintln(cmd.OutOrStdout(), "serve")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", decision.StatusCode, decision.Location)
			return nil
		},
	}
}
