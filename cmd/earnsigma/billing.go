package main

import (
	"errors"
	"fmt"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/spf13/cobra"
)

func newEntitlementsCmd(a *app) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "entitlements",
		Short: "Show the plan and features of the signed-in creator",
		RunE: func(cmd *cobra.Command, args []string) error {
			entitlements, err := a.client().FetchEntitlements(cmd.Context(), client.FetchOptions{ForceRefresh: refresh})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entitlements)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the entitlements cache")
	return cmd
}

func newCheckoutCmd(a *app) *cobra.Command {
	var plan string
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Start a hosted checkout session and print its URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			checkoutPlan := models.CheckoutPlan(plan)
			if !checkoutPlan.IsValid() {
				return fmt.Errorf("unknown plan %q: choose %s or %s", plan, models.CheckoutPlanA, models.CheckoutPlanB)
			}

			session, err := a.client().CreateCheckoutSession(cmd.Context(), checkoutPlan, "")
			if errors.Is(err, client.ErrCheckoutInProgress) {
				return errors.New(client.CheckoutInProgressMessage)
			}
			if err != nil {
				return err
			}

			a.log.WithField("plan", plan).Info("Checkout session created")
			fmt.Fprintln(cmd.OutOrStdout(), session.CheckoutURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&plan, "plan", string(models.CheckoutPlanA), "Plan to purchase (plan_a, plan_b)")
	return cmd
}
